// Package engine runs the assessment pipeline: telemetry in, mitigation
// decision out. One engine serves all sessions; per-session state lives in
// the registry.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/fcaptcha/sentinel/internal/actions"
	"github.com/fcaptcha/sentinel/internal/features"
	"github.com/fcaptcha/sentinel/internal/heartbeat"
	"github.com/fcaptcha/sentinel/internal/logging"
	"github.com/fcaptcha/sentinel/internal/metrics"
	"github.com/fcaptcha/sentinel/internal/policy"
	"github.com/fcaptcha/sentinel/internal/risk"
	"github.com/fcaptcha/sentinel/internal/rules"
	"github.com/fcaptcha/sentinel/internal/session"
	"github.com/fcaptcha/sentinel/internal/telemetry"
	"github.com/fcaptcha/sentinel/internal/token"
)

const tokenTTL = 5 * time.Minute

// Options wires the engine's collaborators.
type Options struct {
	Policies  *policy.Store
	Sessions  *session.Registry
	Actions   *actions.Executor
	Validator *Validator
	Signer    *token.Signer
	Heartbeat *heartbeat.Sender

	// FailOpen selects the degraded path when validation is unreachable:
	// false (default) routes the session to at least a soft mitigation, true
	// trusts the local score alone.
	FailOpen bool

	Now func() time.Time
}

type Engine struct {
	policies  *policy.Store
	sessions  *session.Registry
	exec      *actions.Executor
	validator *Validator
	signer    *token.Signer
	hb        *heartbeat.Sender
	failOpen  bool
	now       func() time.Time
}

func New(o Options) *Engine {
	e := &Engine{
		policies:  o.Policies,
		sessions:  o.Sessions,
		exec:      o.Actions,
		validator: o.Validator,
		signer:    o.Signer,
		hb:        o.Heartbeat,
		failOpen:  o.FailOpen,
		now:       o.Now,
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// AssessRequest is one assessment submission.
type AssessRequest struct {
	SessionID   string                 `json:"sessionId,omitempty"`
	WidgetID    string                 `json:"widgetId"`
	Origin      string                 `json:"origin"`
	URL         string                 `json:"url,omitempty"`
	Referrer    string                 `json:"referrer,omitempty"`
	IP          string                 `json:"-"`
	Events      []telemetry.Event      `json:"events,omitempty"`
	Environment *telemetry.Environment `json:"environment,omitempty"`
}

// AssessResult is the pipeline outcome handed back to the caller.
type AssessResult struct {
	SessionID     string             `json:"sessionId"`
	Decision      rules.Decision     `json:"decision"`
	Score         float64            `json:"score"`
	Degraded      bool               `json:"degraded"`
	Token         string             `json:"token,omitempty"`
	Challenge     *actions.Challenge `json:"challenge,omitempty"`
	SoftTasks     []string           `json:"softTasks,omitempty"`
	RetryJitterMs int                `json:"retryJitterMs,omitempty"`
	Reasons       []string           `json:"reasons,omitempty"`
}

// Assess runs the full pipeline for one submission. It never panics out to
// the caller: any internal failure resolves to a degraded challenge.
func (e *Engine) Assess(ctx context.Context, req AssessRequest) (res *AssessResult) {
	start := e.now()
	sess := e.sessions.GetOrCreate(req.SessionID, req.WidgetID, req.Origin)

	defer func() {
		metrics.PipelineDuration.Observe(e.now().Sub(start).Seconds())
		if r := recover(); r != nil {
			logging.L(ctx).Error("pipeline panic", "panic", r, "session", sess.ID)
			metrics.DegradedTotal.Inc()
			res = e.panicFallback(sess)
		}
	}()

	sess.Lock()
	defer sess.Unlock()

	// Block is terminal: a blocked session is never re-scored, whatever
	// telemetry it submits next.
	if sess.HasDecision && sess.LastDecision == rules.Block {
		return e.recorded(sess)
	}
	// A validated session keeps its verdict; re-submits do not rerun the
	// pipeline.
	if sess.Validated && sess.HasDecision {
		return e.recorded(sess)
	}
	hash := payloadHash(req)
	if sess.HasDecision && hash != "" && hash == sess.PayloadHash {
		return e.recorded(sess)
	}

	p := e.policies.Fetch(ctx, req.WidgetID, req.Origin)
	sess.Policy = p

	// Leaving strict enforcement voids everything earned under it: the
	// bunker pass, the issued token, and the smoothing history.
	if sess.LastMode == policy.ModeStrict && p.Mode != policy.ModeStrict {
		sess.BunkerActive = false
		sess.BunkerToken = ""
		sess.SessionToken = ""
		sess.EMAScore = 0
	}
	sess.LastMode = p.Mode

	if req.Environment != nil {
		sess.Telemetry.SetEnvironment(*req.Environment)
	}
	for _, ev := range req.Events {
		sess.Telemetry.Push(ev)
	}

	sample := sess.Telemetry.Snapshot()
	fs := features.Extract(sample)
	breakdown := risk.Score(fs)

	clientScore := risk.EMA(sess.EMAScore, breakdown.Total)
	sess.EMAScore = clientScore

	final := clientScore
	degraded := false
	var serverAction string

	vr, err := e.validator.Validate(ctx, ValidatePayload{
		SessionID:       sess.ID,
		WidgetID:        req.WidgetID,
		Fingerprint:     sample.Environment,
		BehaviorSummary: summarize(fs),
		RiskBreakdown:   breakdown,
		URL:             req.URL,
		Referrer:        req.Referrer,
	}, p.Timeouts.Validate())

	if err != nil {
		degraded = true
		metrics.DegradedTotal.Inc()
		logging.L(ctx).Warn("validation unavailable", "session", sess.ID, "error", err)
	} else {
		serverRisk := vr.ServerRisk
		if serverRisk == 0 && vr.Score > 0 {
			serverRisk = vr.Score
		}
		breakdown = breakdown.WithNetwork(serverRisk, vr.Flags...)
		combined := risk.Combine(clientScore, serverRisk)
		final = risk.EMA(clientScore, combined)
		sess.EMAScore = final
		sess.Validated = true
		serverAction = vr.Action
	}

	decision := e.decide(final, p, degraded)

	// A backend verdict outranks the local bands.
	switch serverAction {
	case "block":
		decision = rules.Block
	case "bunker":
		decision = rules.Bunker
	}

	decision = e.dampen(sess, decision, final, p)

	out := e.exec.Execute(sess.ID, decision, p, sess.BunkerValid(e.now()))

	result := &AssessResult{
		SessionID:     sess.ID,
		Decision:      decision,
		Score:         final,
		Degraded:      degraded,
		Challenge:     out.Challenge,
		SoftTasks:     out.SoftTasks,
		RetryJitterMs: out.RetryJitterMs,
		Reasons:       breakdown.Reasons,
	}
	if out.Passed {
		result.Token = e.issueToken(sess, req, final, p)
		sess.SessionToken = result.Token
	}

	sess.LastRisk = breakdown
	sess.LastDecision = decision
	sess.HasDecision = true
	sess.PayloadHash = hash
	sess.Degraded = degraded

	metrics.DecisionsTotal.WithLabelValues(decision.String()).Inc()
	e.hb.Ping(ctx, sess.ID, req.WidgetID)
	return result
}

// decide evaluates the bands, then applies the degraded floor: without a
// backend verdict the engine fails closed and mitigates at least softly,
// unless fail-open is configured.
func (e *Engine) decide(score float64, p *policy.Policy, degraded bool) rules.Decision {
	d := rules.Evaluate(score, p)
	if degraded && !e.failOpen && !p.KillSwitch && p.Mode != policy.ModeMonitor && d < rules.Soft {
		return rules.Soft
	}
	return d
}

// dampen holds a previously cooperative session at soft when its score only
// barely crossed into a challenge band. Prevents flapping at the boundary.
func (e *Engine) dampen(sess *session.State, d rules.Decision, score float64, p *policy.Policy) rules.Decision {
	if !sess.HasDecision {
		return d
	}
	if sess.LastDecision != rules.Allow && sess.LastDecision != rules.Soft {
		return d
	}

	t := p.Thresholds
	switch d {
	case rules.Challenge:
		if score < t.Soft+5 {
			return rules.Soft
		}
	case rules.HardChallenge:
		if score < t.Challenge+3 {
			return rules.Soft
		}
	}
	return d
}

func (e *Engine) issueToken(sess *session.State, req AssessRequest, score float64, p *policy.Policy) string {
	ipHash := ""
	if p.Privacy.MaskIP {
		ipHash = token.MaskIP(req.IP)
	}
	return e.signer.Issue(sess.ID, req.WidgetID, score, ipHash, tokenTTL)
}

// recorded replays the stored outcome for an idempotent re-submit.
func (e *Engine) recorded(sess *session.State) *AssessResult {
	return &AssessResult{
		SessionID: sess.ID,
		Decision:  sess.LastDecision,
		Score:     sess.EMAScore,
		Degraded:  sess.Degraded,
		Token:     sess.SessionToken,
		Reasons:   sess.LastRisk.Reasons,
	}
}

// panicFallback is the safe verdict after an internal failure: challenge the
// session rather than wave it through or hard-block it.
func (e *Engine) panicFallback(sess *session.State) *AssessResult {
	d := rules.Challenge
	if e.failOpen {
		d = rules.Allow
	}
	metrics.DecisionsTotal.WithLabelValues(d.String()).Inc()

	res := &AssessResult{SessionID: sess.ID, Decision: d, Degraded: true}
	if d == rules.Challenge {
		out := e.exec.Execute(sess.ID, d, policy.Default(), false)
		res.Challenge = out.Challenge
	}
	return res
}

// ChallengeAnswer is a client response to an issued challenge.
type ChallengeAnswer struct {
	SessionID   string  `json:"sessionId"`
	ChallengeID string  `json:"challengeId"`
	Value       float64 `json:"value"`
	Sig         string  `json:"sig"`
}

// ChallengeResult reports the gate outcome.
type ChallengeResult struct {
	Passed   bool           `json:"passed"`
	Decision rules.Decision `json:"decision"`
	Token    string         `json:"token,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	// Retry marks a failed bunker gate, which may be answered again.
	Retry bool `json:"retry,omitempty"`
}

// SubmitChallenge verifies an answer. Indicator failures are terminal; the
// bunker gate retries until solved and a pass is minted on success.
func (e *Engine) SubmitChallenge(ctx context.Context, ans ChallengeAnswer) *ChallengeResult {
	sess, ok := e.sessions.Get(ans.SessionID)
	if !ok {
		return &ChallengeResult{Passed: false, Decision: rules.Block, Reason: "unknown_session"}
	}

	sess.Lock()
	defer sess.Unlock()

	res := e.exec.Verify(sess.ID, ans.ChallengeID, ans.Value, ans.Sig)

	if !res.Valid {
		if res.Kind == actions.KindBunker {
			return &ChallengeResult{Passed: false, Decision: rules.Bunker, Reason: res.Reason, Retry: true}
		}
		sess.LastDecision = rules.Block
		sess.HasDecision = true
		metrics.DecisionsTotal.WithLabelValues(rules.Block.String()).Inc()
		return &ChallengeResult{Passed: false, Decision: rules.Block, Reason: res.Reason}
	}

	p := sess.Policy
	if p == nil {
		p = policy.Default()
	}

	if res.Kind == actions.KindBunker {
		tok, expires := e.exec.IssueBunkerPass(p)
		sess.BunkerActive = true
		sess.BunkerToken = tok
		sess.BunkerExpires = expires
	}

	sess.Validated = true
	sess.LastDecision = rules.Allow
	sess.HasDecision = true

	sessionToken := e.signer.Issue(sess.ID, sess.WidgetID, sess.EMAScore, "", tokenTTL)
	sess.SessionToken = sessionToken

	logging.L(ctx).Info("challenge solved", "session", sess.ID, "kind", res.Kind)
	return &ChallengeResult{Passed: true, Decision: rules.Allow, Token: sessionToken}
}

// payloadHash fingerprints a submission so byte-identical re-submits can be
// answered from the recorded outcome.
func payloadHash(req AssessRequest) string {
	raw, err := json.Marshal(struct {
		Events []telemetry.Event      `json:"events"`
		Env    *telemetry.Environment `json:"env"`
	}{req.Events, req.Environment})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}
