package ciprovider

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"net/url"

	"github.com/homu-project/homu/internal/model"
)

// Buildbot authenticates callbacks the way Homu's Buildbot integration
// always has: a "secret" form field posted alongside the status fields,
// matched against the per-repository configured value (§6). Parses the
// urlencoded body directly, rather than through r.ParseForm(), since by
// the time Authenticate runs the request body has already been
// consumed by intake for repo sniffing.
type Buildbot struct{}

func (Buildbot) Authenticate(r *http.Request, body []byte, secret string) (*Result, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("ciprovider: parse buildbot form: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(values.Get("secret")), []byte(secret)) != 1 {
		return nil, ErrAuthFailure
	}

	repo := values.Get("repo")
	sha := values.Get("sha")
	builder := values.Get("builder")
	buildURL := values.Get("url")

	var verdict model.Verdict
	switch values.Get("status") {
	case "success":
		verdict = model.VerdictSuccess
	case "failure":
		verdict = model.VerdictFailure
	default:
		verdict = model.VerdictInProgress
	}

	return &Result{Repo: repo, Builder: builder, SHA: sha, Verdict: verdict, URL: buildURL}, nil
}
