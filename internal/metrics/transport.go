package metrics

import (
	"net/http"
	"strconv"
	"time"
)

// Transport wraps an http.RoundTripper, timing every outbound host/CI
// request and recording whether it was served from the caching layer
// underneath it, grounded on the teacher's metrics/transport.go.
type Transport struct {
	Base   http.RoundTripper
	Metric Provider
}

func NewTransport(base http.RoundTripper, metric Provider) *Transport {
	return &Transport{Base: base, Metric: metric}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.Base.RoundTrip(req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		return resp, err
	}

	statusCode := strconv.Itoa(resp.StatusCode)
	t.Metric.ObserveHostRequestDuration(req.URL.Path, req.Method, statusCode, elapsed)

	if resp.Header.Get("X-From-Cache") == "1" {
		t.Metric.IncreaseHostCacheHits(req.Method, req.URL.Path)
	} else {
		t.Metric.IncreaseHostCacheMisses(req.Method, req.URL.Path)
	}

	return resp, nil
}
