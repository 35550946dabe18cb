package ratelimit

import (
	"net/http"

	"github.com/die-net/lrucache"
	"github.com/m4ns0ur/httpcache"
)

const (
	defaultCacheSizeBytes = 64 << 20 // 64MiB
	defaultCacheMaxAgeSec = 3600
)

// NewCachingTransport wraps base with an RFC 7234 HTTP cache backed by an
// in-memory LRU, so repeated GetPullRequest/ListComments calls against
// the same ETag don't consume host API quota (§4.5.a). Response caching
// happens beneath rate limiting: a cache hit never touches the bucket.
func NewCachingTransport(base http.RoundTripper) http.RoundTripper {
	cache := lrucache.New(defaultCacheSizeBytes, defaultCacheMaxAgeSec)
	t := httpcache.NewTransport(cache)
	t.Transport = base
	return t
}
