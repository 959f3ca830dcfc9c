package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fcaptcha/sentinel/internal/features"
)

func TestClampBounds(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{-10, 0},
		{0, 0},
		{50, 50},
		{100, 100},
		{150, 100},
		{math.Inf(1), 100},
		{math.Inf(-1), 0},
		{math.NaN(), 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Clamp(tc.in))
	}
}

func TestClampIdempotent(t *testing.T) {
	for _, x := range []float64{-5, 0, 42.5, 100, 1e9, math.Inf(1), math.NaN()} {
		once := Clamp(x)
		assert.Equal(t, once, Clamp(once))
	}
}

func TestWeightedScoreEndpoints(t *testing.T) {
	zero := map[Component]float64{}
	assert.Equal(t, 0.0, WeightedScore(zero))

	full := map[Component]float64{
		ComponentFingerprint: 100,
		ComponentBehavior:    100,
		ComponentAutomation:  100,
		ComponentIntegrity:   100,
		ComponentVelocity:    100,
		ComponentNetwork:     100,
	}
	assert.InDelta(t, 100.0, WeightedScore(full), 1e-9)
}

func TestWeightedScoreInRange(t *testing.T) {
	components := map[Component]float64{
		ComponentBehavior:   250, // clamped to 100 before weighting
		ComponentAutomation: -40, // clamped to 0
	}
	got := WeightedScore(components)
	assert.GreaterOrEqual(t, got, 0.0)
	assert.LessOrEqual(t, got, 100.0)
	// behavior contributes 0.30*100 of a 1.0 weight total
	assert.InDelta(t, 30.0, got, 1e-9)
}

func TestEMAColdStart(t *testing.T) {
	for _, c := range []float64{0, 1, 42, 100} {
		assert.Equal(t, c, EMA(0, c))
	}
}

func TestEMAConvergence(t *testing.T) {
	score := EMA(0, 80)
	for i := 0; i < 50; i++ {
		score = EMA(score, 20)
	}
	assert.InDelta(t, 20.0, score, 0.01)
}

func TestEMASuppressesSpike(t *testing.T) {
	// A single spike from a steady 10 only moves the average by alpha.
	got := EMA(10, 100)
	assert.InDelta(t, 0.3*100+0.7*10, got, 1e-9)
	assert.Less(t, got, 50.0)
}

func TestCombineWeightsServerHigher(t *testing.T) {
	assert.InDelta(t, 60.0, Combine(0, 100), 1e-9)
	assert.InDelta(t, 40.0, Combine(100, 0), 1e-9)
	assert.Equal(t, 0.0, Combine(0, 0))
	assert.InDelta(t, 100.0, Combine(100, 100), 1e-9)
}

func TestScoreCleanSessionIsLow(t *testing.T) {
	fs := features.FeatureSet{
		PointerCount:    100,
		IntervalEntropy: 0.6,
		MicroTiming:     0.6,
		IntervalMean:    30,
		VelocityStdDev:  0.4,
		DwellMean:       120,
	}
	b := Score(fs)

	assert.Less(t, b.Total, 10.0)
	assert.Empty(t, b.Reasons)
}

func TestScoreAutomatedSessionIsHigh(t *testing.T) {
	fs := features.FeatureSet{
		PointerCount:       60,
		NearLinearMovement: true,
		MicroTiming:        0.05,
		IntervalEntropy:    0.05,
		VelocityStdDev:     0.001,
		Env: features.EnvFlags{
			WebDriver:        true,
			UAAutomation:     true,
			ZeroPlugins:      true,
			SoftwareRenderer: true,
			CanvasBlocked:    true,
			PlatformMismatch: true,
			NoOuterDims:      true,
			NoLanguages:      true,
		},
	}
	b := Score(fs)

	assert.Greater(t, b.Total, 50.0)
	assert.Contains(t, b.Reasons, "webdriver_present")
	assert.Contains(t, b.Reasons, "linear_pointer_path")
	assert.Equal(t, 0.0, b.Components[ComponentNetwork])
}

func TestScoreNetworkZeroLocally(t *testing.T) {
	b := Score(features.FeatureSet{MicroTiming: 0.5})
	assert.Equal(t, 0.0, b.Components[ComponentNetwork])
}

func TestWithNetworkRecomputes(t *testing.T) {
	b := Score(features.FeatureSet{MicroTiming: 0.5})
	enriched := b.WithNetwork(100, "datacenter_ip")

	assert.Equal(t, 100.0, enriched.Components[ComponentNetwork])
	assert.Greater(t, enriched.Total, b.Total)
	assert.Contains(t, enriched.Reasons, "datacenter_ip")
	// Original untouched.
	assert.Equal(t, 0.0, b.Components[ComponentNetwork])
}
