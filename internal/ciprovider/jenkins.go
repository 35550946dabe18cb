package ciprovider

import (
	"net/http"

	"github.com/homu-project/homu/internal/model"
)

// Jenkins authenticates a Jenkins notification-plugin callback whose body
// carries its own HMAC-SHA256 signature (§6: "HMAC in body").
type Jenkins struct{}

func (Jenkins) Authenticate(r *http.Request, body []byte, secret string) (*Result, error) {
	p, err := decodeHMACPayload(body, secret)
	if err != nil {
		return nil, err
	}

	verdict := model.VerdictInProgress
	switch p.Status {
	case "SUCCESS":
		verdict = model.VerdictSuccess
	case "FAILURE", "ABORTED", "UNSTABLE":
		verdict = model.VerdictFailure
	}

	return &Result{Repo: p.Repo, Builder: p.Builder, SHA: p.SHA, Verdict: verdict, URL: p.URL}, nil
}
