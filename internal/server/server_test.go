package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fcaptcha/sentinel/internal/actions"
	"github.com/fcaptcha/sentinel/internal/engine"
	"github.com/fcaptcha/sentinel/internal/logging"
	"github.com/fcaptcha/sentinel/internal/policy"
	"github.com/fcaptcha/sentinel/internal/session"
	"github.com/fcaptcha/sentinel/internal/token"
)

func newTestServer(t *testing.T, validateURL string) *httptest.Server {
	t.Helper()

	var validator *engine.Validator
	if validateURL != "" {
		validator = engine.NewValidator(validateURL)
	} else {
		validator = engine.NewValidatorWithClient("", nil)
	}

	eng := engine.New(engine.Options{
		Policies:  policy.NewStore(""),
		Sessions:  session.NewRegistryWithClock(time.Hour, time.Now),
		Actions:   actions.NewExecutorWithClock("test-secret", time.Now),
		Validator: validator,
		Signer:    token.NewSigner("test-secret"),
	})

	srv := httptest.NewServer(New(eng, logging.New("error", "text")).Router())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsExposed(t *testing.T) {
	srv := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAssess(t *testing.T) {
	// No validation backend: the engine degrades and fails closed at soft.
	srv := newTestServer(t, "")

	resp := postJSON(t, srv.URL+"/api/assess", map[string]any{
		"widgetId": "tenant-1",
		"origin":   "https://example.com",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res engine.AssessResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.NotEmpty(t, res.SessionID)
	assert.True(t, res.Degraded)
}

func TestAssessRejectsBadBody(t *testing.T) {
	srv := newTestServer(t, "")

	resp, err := http.Post(srv.URL+"/api/assess", "application/json", bytes.NewReader([]byte("{nope")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAssessRequiresWidgetID(t *testing.T) {
	srv := newTestServer(t, "")

	resp := postJSON(t, srv.URL+"/api/assess", map[string]any{"origin": "https://example.com"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnswerValidation(t *testing.T) {
	srv := newTestServer(t, "")

	resp := postJSON(t, srv.URL+"/api/challenge/answer", map[string]any{"sessionId": "s1"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "challengeId is required")

	resp = postJSON(t, srv.URL+"/api/challenge/answer", map[string]any{
		"sessionId":   "unknown",
		"challengeId": "c1",
		"value":       0.5,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res engine.ChallengeResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.False(t, res.Passed)
	assert.Equal(t, "block", res.Decision.String())
}

func TestChallengeRoundTripOverHTTP(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(engine.ValidateResponse{ServerRisk: 100})
	}))
	defer backend.Close()

	srv := newTestServer(t, backend.URL)

	resp := postJSON(t, srv.URL+"/api/assess", map[string]any{
		"widgetId": "tenant-1",
		"origin":   "https://example.com",
	})
	defer resp.Body.Close()

	var assessed engine.AssessResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&assessed))
	require.NotNil(t, assessed.Challenge)

	resp = postJSON(t, srv.URL+"/api/challenge/answer", map[string]any{
		"sessionId":   assessed.SessionID,
		"challengeId": assessed.Challenge.ID,
		"value":       assessed.Challenge.Target,
		"sig":         assessed.Challenge.Sig,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res engine.ChallengeResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.True(t, res.Passed)
	assert.NotEmpty(t, res.Token)
}
