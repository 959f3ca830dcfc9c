// Package policy fetches, caches, and validates the remote tenant policy
// document, falling back to hard-coded safe defaults on any failure. Callers
// always receive a usable policy; this package never fails them.
package policy

import "time"

// Operating modes.
const (
	ModeMonitor  = "monitor"  // observe only, never mitigate
	ModeAdaptive = "adaptive" // graduated mitigation (default)
	ModeStrict   = "strict"   // strict enforcement, bunker eligible
)

// Thresholds are the decision band boundaries, strictly increasing.
type Thresholds struct {
	Allow     float64 `json:"allow"`
	Soft      float64 `json:"soft"`
	Challenge float64 `json:"challenge"`
	Bunker    float64 `json:"bunker"`
}

// BunkerPolicy controls the isolation gate.
type BunkerPolicy struct {
	Enabled    bool `json:"enabled"`
	TTLSeconds int  `json:"ttlSeconds"`
}

// Timeouts bound the pipeline's network operations, in milliseconds.
type Timeouts struct {
	ConfigMs   int `json:"configMs"`
	ValidateMs int `json:"validateMs"`
	PingMs     int `json:"pingMs"`
}

// Config returns the config fetch bound.
func (t Timeouts) Config() time.Duration { return time.Duration(t.ConfigMs) * time.Millisecond }

// Validate returns the server validation bound.
func (t Timeouts) Validate() time.Duration { return time.Duration(t.ValidateMs) * time.Millisecond }

// Ping returns the heartbeat bound.
func (t Timeouts) Ping() time.Duration { return time.Duration(t.PingMs) * time.Millisecond }

// Privacy controls what leaves the engine.
type Privacy struct {
	MaskIP bool `json:"maskIp"`
}

// Policy is the tenant-specific tuning document issued by the policy service.
type Policy struct {
	Mode             string            `json:"mode"`
	Thresholds       Thresholds        `json:"thresholds"`
	SoftActions      []string          `json:"softActions"`
	ChallengeActions []string          `json:"challengeActions"`
	BunkerPolicy     BunkerPolicy      `json:"bunkerPolicy"`
	Sampling         float64           `json:"sampling"`
	Privacy          Privacy           `json:"privacy"`
	Timeouts         Timeouts          `json:"timeouts"`
	UI               map[string]string `json:"ui,omitempty"`
	KillSwitch       bool              `json:"killSwitch"`
	TTLSeconds       int               `json:"ttlSeconds"`
}

// DefaultThresholds are the safe fallback bands.
var DefaultThresholds = Thresholds{Allow: 35, Soft: 60, Challenge: 80, Bunker: 92}

// Default returns the hard-coded safe policy used when every other resolution
// tier fails.
func Default() *Policy {
	return &Policy{
		Mode:             ModeAdaptive,
		Thresholds:       DefaultThresholds,
		SoftActions:      []string{"pow", "attest"},
		ChallengeActions: []string{"indicator"},
		BunkerPolicy:     BunkerPolicy{Enabled: false, TTLSeconds: 900},
		Sampling:         1.0,
		Privacy:          Privacy{MaskIP: true},
		Timeouts:         Timeouts{ConfigMs: 800, ValidateMs: 1200, PingMs: 400},
		TTLSeconds:       300,
	}
}

// validShape reports whether a fetched document carries the minimum required
// shape: a string mode and a thresholds object. Anything less is treated as a
// fetch failure.
func validShape(p *Policy) bool {
	if p == nil || p.Mode == "" {
		return false
	}
	z := Thresholds{}
	return p.Thresholds != z
}

// Normalize repairs a structurally valid but misconfigured document in place:
// unknown modes become adaptive, unordered or missing threshold bands revert
// to the defaults, and zero timeouts/TTLs pick up defaults.
func (p *Policy) Normalize() {
	switch p.Mode {
	case ModeMonitor, ModeAdaptive, ModeStrict:
	default:
		p.Mode = ModeAdaptive
	}

	t := p.Thresholds
	if !(t.Allow > 0 && t.Allow < t.Soft && t.Soft < t.Challenge && t.Challenge < t.Bunker && t.Bunker <= 100) {
		p.Thresholds = DefaultThresholds
	}

	d := Default()
	if p.Timeouts.ConfigMs <= 0 {
		p.Timeouts.ConfigMs = d.Timeouts.ConfigMs
	}
	if p.Timeouts.ValidateMs <= 0 {
		p.Timeouts.ValidateMs = d.Timeouts.ValidateMs
	}
	if p.Timeouts.PingMs <= 0 {
		p.Timeouts.PingMs = d.Timeouts.PingMs
	}
	if p.TTLSeconds <= 0 {
		p.TTLSeconds = d.TTLSeconds
	}
	if p.BunkerPolicy.TTLSeconds <= 0 {
		p.BunkerPolicy.TTLSeconds = d.BunkerPolicy.TTLSeconds
	}
	if len(p.SoftActions) == 0 {
		p.SoftActions = d.SoftActions
	}
	if len(p.ChallengeActions) == 0 {
		p.ChallengeActions = d.ChallengeActions
	}
}

// TTL returns the document's cache lifetime.
func (p *Policy) TTL() time.Duration {
	return time.Duration(p.TTLSeconds) * time.Second
}
