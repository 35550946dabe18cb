// Package ratelimit provides a token-bucket http.RoundTripper, one per
// host access token, guarding outbound calls made on behalf of every
// repository configured against that host (GitHub/GitLab enforce quota
// per token, not per repository, so a shared limiter per host client is
// the correct granularity — see cmd/homu's host client construction).
// Grounded on the teacher's server/rate_limit.go.
package ratelimit

import (
	"net/http"

	"golang.org/x/time/rate"
)

// Transport rate-limits outbound requests through Base using a
// token-bucket limiter.
type Transport struct {
	limiter *rate.Limiter
	base    http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// NewTransport returns a Transport allowing limit requests per second
// with the given burst, wrapping base.
func NewTransport(limit rate.Limit, burst int, base http.RoundTripper) *Transport {
	return &Transport{limiter: rate.NewLimiter(limit, burst), base: base}
}
