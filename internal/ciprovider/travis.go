package ciprovider

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/homu-project/homu/internal/model"
)

// travisPayload is the subset of Travis CI's "webhooks" notification
// body Homu needs. Travis posts it as a single urlencoded "payload"
// field carrying a JSON document, not as a bare JSON body.
type travisPayload struct {
	Repository struct {
		Slug string `json:"slug"`
	} `json:"repository"`
	Commit string `json:"commit"`
	Status string `json:"result_message"`
	State  string `json:"state"`
	Number string `json:"number"`
	BuildURL string `json:"build_url"`
}

// Travis authenticates Travis CI notifications via the per-repository
// Travis authorization token carried in the Authorization header (§6:
// "Travis token").
type Travis struct{}

func (Travis) Authenticate(r *http.Request, body []byte, secret string) (*Result, error) {
	if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), []byte(secret)) != 1 {
		return nil, ErrAuthFailure
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("ciprovider: parse travis body: %w", err)
	}

	var p travisPayload
	if err := json.Unmarshal([]byte(values.Get("payload")), &p); err != nil {
		return nil, fmt.Errorf("ciprovider: decode travis payload: %w", err)
	}

	return &Result{
		Repo:    p.Repository.Slug,
		Builder: "travis",
		SHA:     p.Commit,
		Verdict: verdictFromTravisState(p.State),
		URL:     p.BuildURL,
	}, nil
}

func verdictFromTravisState(state string) model.Verdict {
	switch state {
	case "passed":
		return model.VerdictSuccess
	case "failed", "errored", "canceled":
		return model.VerdictFailure
	default:
		return model.VerdictInProgress
	}
}
