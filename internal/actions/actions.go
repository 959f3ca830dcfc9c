// Package actions executes mitigation decisions: no-op allows, invisible soft
// mitigations, signed indicator challenges, and the bunker gate.
package actions

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/fcaptcha/sentinel/internal/metrics"
	"github.com/fcaptcha/sentinel/internal/policy"
	"github.com/fcaptcha/sentinel/internal/rules"
)

// Challenge kinds.
const (
	KindIndicator = "indicator"
	KindBunker    = "bunker"
)

// Tolerances for the indicator target, as a fraction of the axis. Hard
// challenges shrink the window; the bunker gate is strictest.
const (
	toleranceSoft   = 0.08
	toleranceHard   = 0.03
	toleranceBunker = 0.02

	challengeTTL = 2 * time.Minute
	sigLen       = 16
)

// Challenge is an issued interactive challenge. The signature covers every
// field the client echoes back.
type Challenge struct {
	ID        string  `json:"challengeId"`
	Kind      string  `json:"kind"`
	Target    float64 `json:"target"`
	Tolerance float64 `json:"tolerance"`
	ExpiresAt int64   `json:"expiresAt"`
	Sig       string  `json:"sig"`

	sessionID string
}

// Outcome is the result of executing a decision.
type Outcome struct {
	Passed    bool
	Blocked   bool
	Challenge *Challenge
	// SoftTasks names the invisible mitigations the client should run. They
	// carry no pass/fail weight.
	SoftTasks []string
	// RetryJitterMs delays the client's next call when the jitter task is on.
	RetryJitterMs int
}

// VerifyResult reports a challenge answer check.
type VerifyResult struct {
	Valid  bool
	Kind   string
	Reason string
}

// Executor issues and verifies challenges. Challenges are session scoped and
// single use, except the bunker gate which survives failed answers.
type Executor struct {
	secret []byte

	mu         sync.Mutex
	challenges map[string]*Challenge

	now func() time.Time
}

func NewExecutor(secret string) *Executor {
	e := newExecutor(secret, time.Now)
	go e.cleanupLoop()
	return e
}

// NewExecutorWithClock creates an executor without the cleanup goroutine,
// for tests.
func NewExecutorWithClock(secret string, now func() time.Time) *Executor {
	return newExecutor(secret, now)
}

func newExecutor(secret string, now func() time.Time) *Executor {
	return &Executor{
		secret:     []byte(secret),
		challenges: make(map[string]*Challenge),
		now:        now,
	}
}

func (e *Executor) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	for range ticker.C {
		e.cleanup()
	}
}

func (e *Executor) cleanup() {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now().UnixMilli()
	for key, c := range e.challenges {
		if now > c.ExpiresAt {
			delete(e.challenges, key)
		}
	}
}

// Execute runs the mitigation for a decision. Bunker execution consults the
// caller-supplied pass state; issuing and recording passes stays with the
// session owner.
func (e *Executor) Execute(sessionID string, d rules.Decision, p *policy.Policy, bunkerPassValid bool) Outcome {
	switch d {
	case rules.Allow:
		return Outcome{Passed: true}

	case rules.Soft:
		return e.executeSoft(p)

	case rules.Challenge:
		return e.executeChallenge(sessionID, p, toleranceSoft)

	case rules.HardChallenge:
		return e.executeChallenge(sessionID, p, toleranceHard)

	case rules.Bunker:
		if bunkerPassValid {
			return Outcome{Passed: true}
		}
		return Outcome{Challenge: e.issue(sessionID, KindBunker, toleranceBunker)}

	case rules.Block:
		return Outcome{Blocked: true}
	}
	// Unknown decisions never pass.
	return Outcome{Blocked: true}
}

// executeSoft resolves the configured invisible mitigations. Soft mitigations
// always pass; they exist to slow replay, not to gate.
func (e *Executor) executeSoft(p *policy.Policy) Outcome {
	out := Outcome{Passed: true}
	for _, task := range p.SoftActions {
		switch task {
		case "pow", "attest":
			out.SoftTasks = append(out.SoftTasks, task)
		case "jitter":
			out.SoftTasks = append(out.SoftTasks, task)
			out.RetryJitterMs = 50 + randInt(200)
		}
	}
	return out
}

// executeChallenge issues the first interactive kind from the policy's
// challenge list that this engine can render. Unknown kinds from a newer
// policy service are skipped; an empty or unrenderable list falls back to the
// indicator so the session is never stranded without a gate.
func (e *Executor) executeChallenge(sessionID string, p *policy.Policy, tolerance float64) Outcome {
	for _, kind := range p.ChallengeActions {
		if kind == KindIndicator {
			return Outcome{Challenge: e.issue(sessionID, KindIndicator, tolerance)}
		}
	}
	return Outcome{Challenge: e.issue(sessionID, KindIndicator, tolerance)}
}

func (e *Executor) issue(sessionID, kind string, tolerance float64) *Challenge {
	id := make([]byte, 16)
	_, _ = rand.Read(id)

	c := &Challenge{
		ID:        hex.EncodeToString(id),
		Kind:      kind,
		Target:    randTarget(),
		Tolerance: tolerance,
		ExpiresAt: e.now().Add(challengeTTL).UnixMilli(),
		sessionID: sessionID,
	}
	c.Sig = e.sign(c)

	e.mu.Lock()
	e.challenges[sessionID+":"+c.ID] = c
	e.mu.Unlock()
	return c
}

// Verify checks an answer against an outstanding challenge. The echoed
// signature must match the one issued with the challenge. Indicator
// challenges are consumed on any terminal outcome; the bunker gate survives
// wrong answers so the caller can retry indefinitely.
func (e *Executor) Verify(sessionID, challengeID string, value float64, sig string) VerifyResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := sessionID + ":" + challengeID
	c, ok := e.challenges[key]
	if !ok {
		return e.record(VerifyResult{Valid: false, Kind: "unknown", Reason: "challenge_not_found"})
	}

	if e.now().UnixMilli() > c.ExpiresAt {
		delete(e.challenges, key)
		return e.record(VerifyResult{Valid: false, Kind: c.Kind, Reason: "challenge_expired"})
	}

	if !hmac.Equal([]byte(sig), []byte(e.sign(c))) {
		if c.Kind != KindBunker {
			delete(e.challenges, key)
		}
		return e.record(VerifyResult{Valid: false, Kind: c.Kind, Reason: "invalid_signature"})
	}

	if diff := value - c.Target; diff < -c.Tolerance || diff > c.Tolerance {
		if c.Kind != KindBunker {
			delete(e.challenges, key)
		}
		return e.record(VerifyResult{Valid: false, Kind: c.Kind, Reason: "target_missed"})
	}

	delete(e.challenges, key)
	return e.record(VerifyResult{Valid: true, Kind: c.Kind, Reason: "solved"})
}

func (e *Executor) record(r VerifyResult) VerifyResult {
	result := "fail"
	if r.Valid {
		result = "pass"
	}
	metrics.ChallengeOutcomesTotal.WithLabelValues(r.Kind, result).Inc()
	return r
}

// IssueBunkerPass mints a session-scoped whitelist entry.
func (e *Executor) IssueBunkerPass(p *policy.Policy) (string, time.Time) {
	tok := make([]byte, 16)
	_, _ = rand.Read(tok)
	ttl := time.Duration(p.BunkerPolicy.TTLSeconds) * time.Second
	return hex.EncodeToString(tok), e.now().Add(ttl)
}

func (e *Executor) sign(c *Challenge) string {
	payload := fmt.Sprintf("%s|%s|%.6f|%.6f|%d", c.ID, c.Kind, c.Target, c.Tolerance, c.ExpiresAt)
	h := hmac.New(sha256.New, e.secret)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))[:sigLen]
}

// randTarget draws a target in [0.1, 0.9] so the tolerance window never
// clips the axis.
func randTarget() float64 {
	return 0.1 + 0.8*float64(randInt(10000))/10000
}

func randInt(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}
