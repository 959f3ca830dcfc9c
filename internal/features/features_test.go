package features

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fcaptcha/sentinel/internal/telemetry"
)

func humanishSample(n int) *telemetry.Sample {
	rng := rand.New(rand.NewSource(7))
	events := make([]telemetry.Event, 0, n)
	at := int64(0)
	x, y := 100.0, 100.0
	for i := 0; i < n; i++ {
		at += 12 + int64(rng.Intn(40))
		x += rng.Float64()*12 - 6
		y += rng.Float64()*10 - 4
		events = append(events, telemetry.Event{
			Kind: telemetry.EventPointer, At: at, X: x, Y: y,
		})
	}
	return &telemetry.Sample{
		Events: events,
		Environment: telemetry.Environment{
			UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0",
			Platform:            "Win32",
			PluginCount:         3,
			HardwareConcurrency: 8,
			CanvasHash:          "abc123",
			WebGLRenderer:       "ANGLE (NVIDIA GeForce)",
			Languages:           2,
			HasOuterDimensions:  true,
		},
	}
}

func TestExtractEmptySample(t *testing.T) {
	fs := Extract(&telemetry.Sample{})

	assert.True(t, fs.NoPointerMovement)
	assert.False(t, fs.NearLinearMovement)
	assert.Equal(t, 0.0, fs.IntervalEntropy)
	assert.Equal(t, 0.5, fs.MicroTiming)
	assert.False(t, math.IsNaN(fs.IntervalSkewness))
	assert.False(t, math.IsNaN(fs.VelocityMean))
}

func TestExtractNilSample(t *testing.T) {
	fs := Extract(nil)
	assert.True(t, fs.NoPointerMovement)
	assert.Equal(t, 0.5, fs.MicroTiming)
}

func TestExtractHumanMovement(t *testing.T) {
	fs := Extract(humanishSample(120))

	assert.Equal(t, 120, fs.PointerCount)
	assert.False(t, fs.NoPointerMovement)
	assert.False(t, fs.NearLinearMovement)
	assert.Greater(t, fs.IntervalEntropy, 0.3)
	assert.Greater(t, fs.VelocityStdDev, 0.0)
}

func TestExtractLinearMovement(t *testing.T) {
	// A perfectly straight sweep, the classic synthetic pointer path.
	events := make([]telemetry.Event, 0, 60)
	for i := 0; i < 60; i++ {
		events = append(events, telemetry.Event{
			Kind: telemetry.EventPointer,
			At:   int64(i * 16),
			X:    float64(i * 5),
			Y:    float64(i * 3),
		})
	}
	fs := Extract(&telemetry.Sample{Events: events})

	assert.True(t, fs.NearLinearMovement)
	assert.Greater(t, fs.LinearRatio, 0.8)
	assert.Less(t, fs.MeanCurvature, 0.01)
	// Constant 16ms spacing reads as mechanical.
	assert.Equal(t, 0.1, fs.MicroTiming)
}

func TestExtractDwellTimes(t *testing.T) {
	events := []telemetry.Event{
		{Kind: telemetry.EventKeyDown, At: 100, Key: "a"},
		{Kind: telemetry.EventKeyUp, At: 180, Key: "a"},
		{Kind: telemetry.EventKeyDown, At: 250, Key: "b"},
		{Kind: telemetry.EventKeyUp, At: 370, Key: "b"},
	}
	fs := Extract(&telemetry.Sample{Events: events})

	require.Equal(t, 2, fs.KeyCount)
	assert.InDelta(t, 100.0, fs.DwellMean, 1e-9) // (80+120)/2
}

func TestExtractUnmatchedKeyUpIgnored(t *testing.T) {
	events := []telemetry.Event{
		{Kind: telemetry.EventKeyUp, At: 100, Key: "x"},
	}
	fs := Extract(&telemetry.Sample{Events: events})
	assert.Equal(t, 0.0, fs.DwellMean)
}

func TestEnvFlagsAutomation(t *testing.T) {
	env := telemetry.Environment{
		UserAgent:     "Mozilla/5.0 HeadlessChrome/120.0",
		WebDriver:     true,
		PluginCount:   0,
		WebGLRenderer: "Google SwiftShader",
		CanvasHash:    "error",
	}
	flags := extractEnvFlags(env)

	assert.True(t, flags.WebDriver)
	assert.True(t, flags.UAAutomation)
	assert.True(t, flags.ZeroPlugins)
	assert.True(t, flags.SoftwareRenderer)
	assert.True(t, flags.CanvasBlocked)
	assert.True(t, flags.NoLanguages)
}

func TestEnvFlagsPlatformMismatch(t *testing.T) {
	assert.True(t, platformMismatch("Mozilla/5.0 (Windows NT 10.0)", "Linux x86_64"))
	assert.False(t, platformMismatch("Mozilla/5.0 (Windows NT 10.0)", "Win32"))
	assert.False(t, platformMismatch("Mozilla/5.0 (Macintosh; Mac OS X)", "MacIntel"))
	assert.False(t, platformMismatch("", "Win32"))
}

func TestEnvFlagsMobileNoTouch(t *testing.T) {
	env := telemetry.Environment{
		UserAgent:      "Mozilla/5.0 (Linux; Android 13) Mobile",
		MaxTouchPoints: 0,
		PluginCount:    1,
		Languages:      1,
		CanvasHash:     "ok",
	}
	assert.True(t, extractEnvFlags(env).MobileNoTouch)

	env.MaxTouchPoints = 5
	assert.False(t, extractEnvFlags(env).MobileNoTouch)
}

func TestExtractOutOfOrderTimestampsSkipped(t *testing.T) {
	events := []telemetry.Event{
		{Kind: telemetry.EventPointer, At: 100, X: 0, Y: 0},
		{Kind: telemetry.EventPointer, At: 50, X: 10, Y: 10}, // clock skew
		{Kind: telemetry.EventPointer, At: 150, X: 20, Y: 20},
	}
	fs := Extract(&telemetry.Sample{Events: events})
	assert.False(t, math.IsNaN(fs.VelocityMean))
	assert.False(t, math.IsInf(fs.VelocityMean, 0))
}
