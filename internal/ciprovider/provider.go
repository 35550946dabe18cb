// Package ciprovider defines the narrow capability interface Homu uses to
// authenticate and interpret a CI status callback, plus concrete
// implementations for CircleCI, Buildbot, Travis, Jenkins and Solano.
// Generalized from the teacher's CircleCIService wrapper in
// server/circleci.go (§9: "the same [narrow interface] for CI providers:
// {authenticate(payload) -> (repo, sha, verdict, url)}").
package ciprovider

import (
	"errors"
	"net/http"

	"github.com/homu-project/homu/internal/model"
)

// ErrAuthFailure is returned when a payload's signature, token or secret
// does not match the repository's configured value (§7 AuthFailure).
var ErrAuthFailure = errors.New("ciprovider: authentication failed")

// Result is what a CI provider's webhook callback resolves to: which
// repository and builder reported, for what SHA, and the outcome.
type Result struct {
	Repo    string
	Builder string
	SHA     string
	Verdict model.Verdict
	URL     string
}

// Provider authenticates and decodes one CI provider's status callback.
// Authenticate must not mutate anything outside itself; the caller
// (event intake) is responsible for translating a Result into a queued
// build_status event.
type Provider interface {
	// Authenticate verifies r against secret and, on success, extracts
	// the Result it carries. Returns ErrAuthFailure (or a wrapped form
	// of it) if the request fails to authenticate.
	Authenticate(r *http.Request, body []byte, secret string) (*Result, error)
}
