package ciprovider

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"

	circleci "github.com/mattermost/go-circleci"

	"github.com/homu-project/homu/internal/model"
)

// circleCIService is the sliver of go-circleci's client CircleCI depends
// on, mirroring the teacher's own CircleCIService interface in
// server/circleci.go so a fake can stand in for tests.
type circleCIService interface {
	ListRecentBuildsForProjectWithContext(ctx context.Context, vcsType circleci.VcsType, account, repo, branch, status string, limit, offset int) ([]*circleci.Build, error)
}

// circleCIWebhook is the subset of CircleCI's outcome webhook payload
// Homu needs: which project and workflow finished, at what SHA, with
// what status, and a link back to the build.
type circleCIWebhook struct {
	Payload struct {
		VCSRevision string `json:"vcs_revision"`
		Outcome     string `json:"outcome"`
		BuildURL    string `json:"build_url"`
		Reponame    string `json:"reponame"`
		Username    string `json:"username"`
		Workflows   struct {
			JobName string `json:"job_name"`
		} `json:"workflows"`
	} `json:"payload"`
}

// CircleCI authenticates CircleCI's build-finished webhook against a
// per-repository shared secret carried in the request's query string
// (CircleCI itself does not sign outcome webhooks). Authenticate does not
// call the CircleCI API; Client is held but not used by it.
type CircleCI struct {
	Client circleCIService
}

// NewCircleCI builds a CircleCI provider holding a CircleCI v1.1 API
// client authenticated with the given token.
func NewCircleCI(apiToken string) *CircleCI {
	client, _ := circleci.NewClient(apiToken, circleci.APIVersion11)
	return &CircleCI{Client: client}
}

func (c *CircleCI) Authenticate(r *http.Request, body []byte, secret string) (*Result, error) {
	got := r.URL.Query().Get("secret")
	if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
		return nil, ErrAuthFailure
	}

	var hook circleCIWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("ciprovider: decode circleci payload: %w", err)
	}

	return &Result{
		Repo:    hook.Payload.Reponame,
		Builder: "circleci/" + hook.Payload.Workflows.JobName,
		SHA:     hook.Payload.VCSRevision,
		Verdict: verdictFromCircleCIOutcome(hook.Payload.Outcome),
		URL:     hook.Payload.BuildURL,
	}, nil
}

func verdictFromCircleCIOutcome(outcome string) model.Verdict {
	switch outcome {
	case "success", "fixed":
		return model.VerdictSuccess
	case "failed", "timedout", "canceled":
		return model.VerdictFailure
	default:
		return model.VerdictInProgress
	}
}
