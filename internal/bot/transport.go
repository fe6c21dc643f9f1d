package bot

import (
	"net/http"
	"strconv"
	"time"

	"discord-guard-bot/internal/metrics"
)

// newTransport is the pooled keep-alive transport used for REST calls
func newTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:          500,
		MaxIdleConnsPerHost:   100,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       120 * time.Second,
		ForceAttemptHTTP2:     true,
		DisableCompression:    true,
		ResponseHeaderTimeout: 5 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		WriteBufferSize:       32 * 1024,
		ReadBufferSize:        32 * 1024,
	}
}

// LatencyTransport observes the latency of every REST round trip
type LatencyTransport struct {
	Base http.RoundTripper
}

func (t *LatencyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.Base.RoundTrip(req)

	status := "error"
	if err == nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	metrics.RESTLatency.WithLabelValues(req.Method, status).Observe(time.Since(start).Seconds())
	return resp, err
}
