// Package httputil provides shared HTTP clients with hard deadlines for the
// sentinel pipeline. Every outbound call the engine makes must resolve within
// its deadline and surface "no result" rather than an unbounded wait.
package httputil

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// MaxResponseSize bounds response body reads. Policy documents and validation
// verdicts are small; anything larger is treated as malformed.
const MaxResponseSize = 1 * 1024 * 1024 // 1MB

// Shared transport with connection pooling, reused across all tiers.
var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   2 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          50,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   2 * time.Second,
	ExpectContinueTimeout: 500 * time.Millisecond,
}

// TimeoutTier defines the deadline categories for pipeline network calls.
type TimeoutTier int

const (
	// TierPing for the fire-and-forget heartbeat (400ms).
	TierPing TimeoutTier = iota
	// TierConfig for policy document fetches (800ms).
	TierConfig
	// TierValidate for server validation round-trips (1200ms).
	TierValidate
)

var timeoutDurations = map[TimeoutTier]time.Duration{
	TierPing:     400 * time.Millisecond,
	TierConfig:   800 * time.Millisecond,
	TierValidate: 1200 * time.Millisecond,
}

var (
	clientPing     *http.Client
	clientConfig   *http.Client
	clientValidate *http.Client
	clientOnce     sync.Once
)

func initClients() {
	clientPing = &http.Client{Timeout: timeoutDurations[TierPing], Transport: sharedTransport}
	clientConfig = &http.Client{Timeout: timeoutDurations[TierConfig], Transport: sharedTransport}
	clientValidate = &http.Client{Timeout: timeoutDurations[TierValidate], Transport: sharedTransport}
}

// Client returns the shared HTTP client for the given tier. Clients share a
// connection pool and should be used instead of per-request http.Client values.
func Client(tier TimeoutTier) *http.Client {
	clientOnce.Do(initClients)
	switch tier {
	case TierPing:
		return clientPing
	case TierConfig:
		return clientConfig
	case TierValidate:
		return clientValidate
	default:
		return clientConfig
	}
}

// Timeout reports the deadline for a tier, for callers that build their own
// context deadlines around a request.
func Timeout(tier TimeoutTier) time.Duration {
	return timeoutDurations[tier]
}

// ReadResponseBody safely reads a response body with a size limit.
func ReadResponseBody(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxResponseSize
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// DrainAndClose drains and closes a response body so the connection can be
// reused by the pool.
func DrainAndClose(body io.ReadCloser) {
	if body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
		_ = body.Close()
	}
}
