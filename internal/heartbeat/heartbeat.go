// Package heartbeat sends opaque liveness pings to the backend. Pings are
// fire-and-forget: the pipeline never waits on them and never sees their
// errors.
package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fcaptcha/sentinel/internal/httputil"
	"github.com/fcaptcha/sentinel/internal/logging"
	"github.com/fcaptcha/sentinel/internal/ratelimit"
)

const (
	// At most one ping per session every 30 seconds.
	window = 30 * time.Second
	maxPer = 1
)

// Sender posts heartbeats to {baseURL}/ping.
type Sender struct {
	baseURL string
	client  *http.Client
	limiter *ratelimit.Limiter
}

func NewSender(baseURL string) *Sender {
	return &Sender{
		baseURL: baseURL,
		client:  httputil.Client(httputil.TierPing),
		limiter: ratelimit.New(),
	}
}

// NewSenderWithClient injects the HTTP client and limiter, for tests.
func NewSenderWithClient(baseURL string, client *http.Client, limiter *ratelimit.Limiter) *Sender {
	return &Sender{baseURL: baseURL, client: client, limiter: limiter}
}

// Ping fires one heartbeat for the session if the rate budget allows. It
// returns immediately; the send happens on its own goroutine with its own
// deadline.
func (s *Sender) Ping(ctx context.Context, sessionID, widgetID string) {
	if s == nil || s.baseURL == "" {
		return
	}
	if !s.limiter.Allow("heartbeat:"+sessionID, window, maxPer) {
		return
	}

	log := logging.L(ctx)
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), httputil.Timeout(httputil.TierPing))
		defer cancel()

		body, _ := json.Marshal(map[string]string{
			"sessionId": sessionID,
			"widgetId":  widgetID,
		})
		req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, s.baseURL+"/ping", bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			log.Debug("heartbeat failed", "error", err)
			return
		}
		httputil.DrainAndClose(resp.Body)
	}()
}
