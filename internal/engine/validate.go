package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fcaptcha/sentinel/internal/features"
	"github.com/fcaptcha/sentinel/internal/httputil"
	"github.com/fcaptcha/sentinel/internal/metrics"
	"github.com/fcaptcha/sentinel/internal/risk"
	"github.com/fcaptcha/sentinel/internal/telemetry"
)

// ValidatePayload is sent to the backend for server-side enrichment.
type ValidatePayload struct {
	SessionID       string                `json:"sessionId"`
	WidgetID        string                `json:"widgetId"`
	Fingerprint     telemetry.Environment `json:"fingerprint"`
	BehaviorSummary BehaviorSummary       `json:"behaviorSummary"`
	RiskBreakdown   risk.Breakdown        `json:"riskBreakdown"`
	URL             string                `json:"url,omitempty"`
	Referrer        string                `json:"referrer,omitempty"`
}

// BehaviorSummary condenses the extracted features for the backend.
type BehaviorSummary struct {
	PointerCount    int     `json:"pointerCount"`
	KeyCount        int     `json:"keyCount"`
	ScrollCount     int     `json:"scrollCount"`
	IntervalEntropy float64 `json:"intervalEntropy"`
	MicroTiming     float64 `json:"microTiming"`
	LinearRatio     float64 `json:"linearRatio"`
	VelocityMean    float64 `json:"velocityMean"`
}

// ValidateResponse is the backend verdict.
type ValidateResponse struct {
	Action     string   `json:"action"` // "", "block", "bunker"
	Token      string   `json:"token,omitempty"`
	ExpiresIn  int      `json:"expiresIn,omitempty"`
	ServerRisk float64  `json:"serverRisk"`
	Flags      []string `json:"flags,omitempty"`
	Reason     string   `json:"reason,omitempty"`
	Score      float64  `json:"score,omitempty"`
}

var errValidateUnavailable = errors.New("engine: validation backend unavailable")

// Validator posts assessments to {baseURL}/validate under the policy's
// validate timeout.
type Validator struct {
	baseURL string
	client  *http.Client
}

func NewValidator(baseURL string) *Validator {
	return &Validator{baseURL: baseURL, client: httputil.Client(httputil.TierValidate)}
}

// NewValidatorWithClient injects the HTTP client, for tests.
func NewValidatorWithClient(baseURL string, client *http.Client) *Validator {
	return &Validator{baseURL: baseURL, client: client}
}

// Validate performs one bounded round-trip. Any failure comes back as an
// error; the caller owns the degraded path.
func (v *Validator) Validate(ctx context.Context, p ValidatePayload, timeout time.Duration) (*ValidateResponse, error) {
	if v == nil || v.baseURL == "" {
		metrics.ValidationsTotal.WithLabelValues("error").Inc()
		return nil, errValidateUnavailable
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(p)
	if err != nil {
		metrics.ValidationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("engine: marshal validate payload: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, v.baseURL+"/validate", bytes.NewReader(body))
	if err != nil {
		metrics.ValidationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			metrics.ValidationsTotal.WithLabelValues("timeout").Inc()
		} else {
			metrics.ValidationsTotal.WithLabelValues("error").Inc()
		}
		return nil, fmt.Errorf("engine: validate call: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ValidationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("engine: validate status %d", resp.StatusCode)
	}

	raw, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
	if err != nil {
		metrics.ValidationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	var vr ValidateResponse
	if err := json.Unmarshal(raw, &vr); err != nil {
		metrics.ValidationsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("engine: validate response: %w", err)
	}

	metrics.ValidationsTotal.WithLabelValues("ok").Inc()
	return &vr, nil
}

func summarize(fs features.FeatureSet) BehaviorSummary {
	return BehaviorSummary{
		PointerCount:    fs.PointerCount,
		KeyCount:        fs.KeyCount,
		ScrollCount:     fs.ScrollCount,
		IntervalEntropy: fs.IntervalEntropy,
		MicroTiming:     fs.MicroTiming,
		LinearRatio:     fs.LinearRatio,
		VelocityMean:    fs.VelocityMean,
	}
}
