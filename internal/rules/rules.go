// Package rules maps a risk score and a policy onto one of the six mitigation
// decisions. Evaluation is a pure, total function: every score and every
// policy, however broken, yields a decision.
package rules

import (
	"fmt"

	"github.com/fcaptcha/sentinel/internal/policy"
)

// Decision is the closed set of mitigation outcomes, ordered by severity so
// hysteresis can compare transitions.
type Decision int

const (
	Allow Decision = iota
	Soft
	Challenge
	HardChallenge
	Bunker
	Block
)

var names = [...]string{"allow", "soft", "challenge", "hard_challenge", "bunker", "block"}

func (d Decision) String() string {
	if d < Allow || d > Block {
		return "unknown"
	}
	return names[d]
}

// MarshalText implements encoding.TextMarshaler so decisions serialize as
// their wire names.
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Decision) UnmarshalText(b []byte) error {
	v, ok := Parse(string(b))
	if !ok {
		return fmt.Errorf("rules: unknown decision %q", b)
	}
	*d = v
	return nil
}

// Severity returns the ordering rank. Higher means a harsher mitigation.
func (d Decision) Severity() int { return int(d) }

// Parse maps a wire name to a decision. Unknown names report ok=false.
func Parse(s string) (Decision, bool) {
	for i, n := range names {
		if n == s {
			return Decision(i), true
		}
	}
	return Allow, false
}

// Evaluate maps (score, policy) to a decision.
//
// Kill-switch and monitor mode force allow unconditionally. With bunker
// enabled, scores at or above the bunker band isolate; with it disabled they
// block, since no isolation gate is available. Everything below follows the
// progressive bands.
func Evaluate(score float64, p *policy.Policy) Decision {
	if p == nil {
		p = policy.Default()
	}
	if p.KillSwitch || p.Mode == policy.ModeMonitor {
		return Allow
	}

	t := p.Thresholds
	z := policy.Thresholds{}
	if t == z {
		t = policy.DefaultThresholds
	}

	if score >= t.Bunker {
		if p.BunkerPolicy.Enabled {
			return Bunker
		}
		return Block
	}

	switch {
	case score < t.Allow:
		return Allow
	case score < t.Soft:
		return Soft
	case score < t.Challenge:
		return Challenge
	default:
		return HardChallenge
	}
}
