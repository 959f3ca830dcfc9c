// Package features derives per-assessment statistics from a telemetry
// snapshot. Extraction is pure and synchronous: no I/O, O(buffer size), and
// every output is clamped to a defined range so downstream scoring never sees
// NaN or unbounded values.
package features

import (
	"math"
	"regexp"
	"strings"

	"github.com/fcaptcha/sentinel/internal/telemetry"
)

const (
	// curvatureWindow is how many trailing pointer points the linearity check
	// considers.
	curvatureWindow = 50
	// nearZeroCurvature is the threshold under which a segment counts as
	// straight.
	nearZeroCurvature = 0.01
	// linearRatioFlag is the straight-segment fraction that raises the
	// near-linear movement flag.
	linearRatioFlag = 0.8
)

// FeatureSet is the immutable output of one extraction pass.
type FeatureSet struct {
	PointerCount int
	KeyCount     int
	ScrollCount  int
	TouchCount   int

	// Inter-event interval statistics over pointer/touch events (ms).
	IntervalMean     float64
	IntervalStdDev   float64
	IntervalEntropy  float64 // normalized [0,1]
	IntervalSkewness float64
	IntervalKurtosis float64
	MicroTiming      float64 // composite [0,1]

	// Pointer path geometry.
	MeanCurvature float64
	LinearRatio   float64 // fraction of near-straight segments in the window

	// Pointer velocity statistics (px/ms).
	VelocityMean   float64
	VelocityStdDev float64

	// Key dwell statistics (ms between down and up).
	DwellMean   float64
	DwellStdDev float64

	NoPointerMovement  bool
	NearLinearMovement bool

	Env EnvFlags
}

// EnvFlags are boolean environment signals derived from the one-shot snapshot.
type EnvFlags struct {
	WebDriver        bool
	UAAutomation     bool
	ZeroPlugins      bool
	SoftwareRenderer bool
	CanvasBlocked    bool
	NoLanguages      bool
	InnerEqualsOuter bool
	NoOuterDims      bool
	PlatformMismatch bool
	MobileNoTouch    bool
}

var uaAutomationPatterns = compileUAPatterns()

func compileUAPatterns() []*regexp.Regexp {
	patterns := []string{
		`(?i)headless`,
		`(?i)phantomjs`,
		`(?i)selenium`,
		`(?i)webdriver`,
		`(?i)puppeteer`,
		`(?i)playwright`,
		`(?i)cypress`,
		`(?i)nightwatch`,
		`(?i)zombie`,
		`(?i)electron`,
		`(?i)chromium.*headless`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			compiled = append(compiled, re)
		}
	}
	return compiled
}

// Extract computes a FeatureSet from the snapshot. Empty buffers yield zeroed
// statistics, never NaN.
func Extract(sample *telemetry.Sample) FeatureSet {
	fs := FeatureSet{}
	if sample == nil {
		fs.MicroTiming = 0.5
		fs.NoPointerMovement = true
		return fs
	}

	var pointer []telemetry.Event
	downAt := make(map[string]int64)
	var dwells []float64

	for _, ev := range sample.Events {
		switch ev.Kind {
		case telemetry.EventPointer:
			fs.PointerCount++
			pointer = append(pointer, ev)
		case telemetry.EventTouch:
			fs.TouchCount++
			pointer = append(pointer, ev)
		case telemetry.EventKeyDown:
			fs.KeyCount++
			downAt[ev.Key] = ev.At
		case telemetry.EventKeyUp:
			if at, ok := downAt[ev.Key]; ok && ev.At >= at {
				dwells = append(dwells, float64(ev.At-at))
				delete(downAt, ev.Key)
			}
		case telemetry.EventScroll:
			fs.ScrollCount++
		}
	}

	intervals := make([]float64, 0, len(pointer))
	velocities := make([]float64, 0, len(pointer))
	for i := 1; i < len(pointer); i++ {
		dt := float64(pointer[i].At - pointer[i-1].At)
		if dt <= 0 {
			continue
		}
		intervals = append(intervals, dt)
		dx := pointer[i].X - pointer[i-1].X
		dy := pointer[i].Y - pointer[i-1].Y
		velocities = append(velocities, math.Hypot(dx, dy)/dt)
	}

	fs.IntervalMean = mean(intervals)
	fs.IntervalStdDev = stdDev(intervals)
	fs.IntervalEntropy = clamp01(intervalEntropy(intervals))
	fs.IntervalSkewness = skewness(intervals)
	fs.IntervalKurtosis = kurtosis(intervals)
	fs.MicroTiming = clamp01(microTimingScore(intervals))

	fs.VelocityMean = mean(velocities)
	fs.VelocityStdDev = stdDev(velocities)
	fs.DwellMean = mean(dwells)
	fs.DwellStdDev = stdDev(dwells)

	fs.MeanCurvature, fs.LinearRatio = pathCurvature(pointer)
	fs.NoPointerMovement = len(pointer) == 0
	fs.NearLinearMovement = len(pointer) >= 3 && fs.LinearRatio > linearRatioFlag

	fs.Env = extractEnvFlags(sample.Environment)
	return fs
}

// pathCurvature computes the mean Menger curvature over consecutive point
// triples in the trailing window, and the fraction of near-straight segments.
func pathCurvature(pts []telemetry.Event) (meanCurv, linearRatio float64) {
	if len(pts) < 3 {
		return 0, 0
	}
	if len(pts) > curvatureWindow {
		pts = pts[len(pts)-curvatureWindow:]
	}

	var sum float64
	straight := 0
	n := 0
	for i := 2; i < len(pts); i++ {
		k := mengerCurvature(
			pts[i-2].X, pts[i-2].Y,
			pts[i-1].X, pts[i-1].Y,
			pts[i].X, pts[i].Y,
		)
		sum += k
		if k < nearZeroCurvature {
			straight++
		}
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), float64(straight) / float64(n)
}

func extractEnvFlags(env telemetry.Environment) EnvFlags {
	flags := EnvFlags{
		WebDriver:        env.WebDriver,
		ZeroPlugins:      env.PluginCount == 0,
		NoLanguages:      env.Languages == 0,
		InnerEqualsOuter: env.InnerEqualsOuter,
		NoOuterDims:      !env.HasOuterDimensions,
	}

	for _, pattern := range uaAutomationPatterns {
		if pattern.MatchString(env.UserAgent) {
			flags.UAAutomation = true
			break
		}
	}

	renderer := strings.ToLower(env.WebGLRenderer)
	if strings.Contains(renderer, "swiftshader") || strings.Contains(renderer, "llvmpipe") {
		flags.SoftwareRenderer = true
	}

	if env.CanvasHash == "" || env.CanvasHash == "error" {
		flags.CanvasBlocked = true
	}

	flags.PlatformMismatch = platformMismatch(env.UserAgent, env.Platform)

	mobileUA := strings.Contains(env.UserAgent, "Mobile") || strings.Contains(env.UserAgent, "Android")
	flags.MobileNoTouch = mobileUA && env.MaxTouchPoints == 0

	return flags
}

// platformMismatch checks that the OS claimed by the user agent matches the
// reported platform string.
func platformMismatch(ua, platform string) bool {
	if ua == "" || platform == "" {
		return false
	}
	switch {
	case strings.Contains(ua, "Windows"):
		return !strings.Contains(platform, "Win")
	case strings.Contains(ua, "Mac OS X"), strings.Contains(ua, "Macintosh"):
		return !strings.Contains(platform, "Mac")
	case strings.Contains(ua, "Linux") && !strings.Contains(ua, "Android"):
		return !strings.Contains(platform, "Linux")
	}
	return false
}
