// Package risk combines named component scores into a bounded total and
// provides the smoothing primitives the orchestrator applies between
// assessments.
package risk

import "math"

// Component names a risk sub-score.
type Component string

const (
	ComponentFingerprint Component = "fingerprint"
	ComponentBehavior    Component = "behavior"
	ComponentAutomation  Component = "automation"
	ComponentIntegrity   Component = "integrity"
	ComponentVelocity    Component = "velocity"
	ComponentNetwork     Component = "network"
)

// Fixed component weights. Network is populated only by server enrichment and
// defaults to 0 locally.
var weights = map[Component]float64{
	ComponentFingerprint: 0.25,
	ComponentBehavior:    0.30,
	ComponentAutomation:  0.20,
	ComponentIntegrity:   0.10,
	ComponentVelocity:    0.10,
	ComponentNetwork:     0.05,
}

// Alpha is the EMA smoothing factor.
const Alpha = 0.3

// Breakdown is the structured score produced once per assessment. It is not
// mutated after construction; smoothing produces new totals.
type Breakdown struct {
	Total      float64               `json:"total"`
	Components map[Component]float64 `json:"components"`
	Reasons    []string              `json:"reasons"`
}

// Clamp bounds x to [0, 100]. NaN clamps to 0, ±Inf to the nearest bound.
// Idempotent.
func Clamp(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	if x < 0 {
		return 0
	}
	if x > 100 {
		return 100
	}
	return x
}

// WeightedScore combines components under the fixed weights:
// clamp(Σ wᵢ·clamp(cᵢ) / Σ wᵢ). Missing components count as 0.
func WeightedScore(components map[Component]float64) float64 {
	var sum, totalWeight float64
	for comp, w := range weights {
		sum += w * Clamp(components[comp])
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	return Clamp(sum / totalWeight)
}

// EMA applies exponential smoothing: clamp(α·curr + (1-α)·prev). A zero
// previous value is a cold start and passes the raw score through.
func EMA(prev, curr float64) float64 {
	if prev == 0 {
		return Clamp(curr)
	}
	return Clamp(Alpha*Clamp(curr) + (1-Alpha)*Clamp(prev))
}

// Combine merges client and server risk. The server signal carries
// cross-session and network context unavailable locally, so it is weighted
// higher.
func Combine(client, server float64) float64 {
	return Clamp(0.4*Clamp(client) + 0.6*Clamp(server))
}

// WithNetwork returns a copy of the breakdown with the network component set
// from server enrichment and the total recomputed.
func (b Breakdown) WithNetwork(network float64, reasons ...string) Breakdown {
	components := make(map[Component]float64, len(b.Components)+1)
	for k, v := range b.Components {
		components[k] = v
	}
	components[ComponentNetwork] = Clamp(network)

	out := Breakdown{
		Total:      WeightedScore(components),
		Components: components,
		Reasons:    append(append([]string{}, b.Reasons...), reasons...),
	}
	return out
}
