package ciprovider

import (
	"net/http"

	"github.com/homu-project/homu/internal/model"
)

// Solano authenticates a Solano CI callback whose body carries its own
// HMAC-SHA256 signature (§6: "HMAC in body"), the same shape Jenkins uses.
type Solano struct{}

func (Solano) Authenticate(r *http.Request, body []byte, secret string) (*Result, error) {
	p, err := decodeHMACPayload(body, secret)
	if err != nil {
		return nil, err
	}

	verdict := model.VerdictInProgress
	switch p.Status {
	case "passed", "success":
		verdict = model.VerdictSuccess
	case "failed", "error":
		verdict = model.VerdictFailure
	}

	return &Result{Repo: p.Repo, Builder: p.Builder, SHA: p.SHA, Verdict: verdict, URL: p.URL}, nil
}
