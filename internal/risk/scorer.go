package risk

import "github.com/fcaptcha/sentinel/internal/features"

// signal is one triggered indicator feeding a component score.
type signal struct {
	score      float64 // 0-100
	confidence float64 // 0-1
	reason     string
}

// Score maps a feature set onto the weighted component breakdown. Each
// component aggregates its triggered signals as a confidence-weighted mean, so
// one weak indicator cannot dominate a strong one.
func Score(fs features.FeatureSet) Breakdown {
	components := map[Component]float64{}
	var reasons []string

	add := func(comp Component, signals []signal) {
		var weightedSum, totalConf float64
		for _, s := range signals {
			weightedSum += s.score * s.confidence
			totalConf += s.confidence
			reasons = append(reasons, s.reason)
		}
		if totalConf > 0 {
			components[comp] = Clamp(weightedSum / totalConf)
		} else {
			components[comp] = 0
		}
	}

	add(ComponentBehavior, behaviorSignals(fs))
	add(ComponentAutomation, automationSignals(fs))
	add(ComponentFingerprint, fingerprintSignals(fs))
	add(ComponentIntegrity, integritySignals(fs))
	add(ComponentVelocity, velocitySignals(fs))
	components[ComponentNetwork] = 0 // server enrichment only

	return Breakdown{
		Total:      WeightedScore(components),
		Components: components,
		Reasons:    reasons,
	}
}

func behaviorSignals(fs features.FeatureSet) []signal {
	var out []signal

	if fs.NoPointerMovement {
		out = append(out, signal{50, 0.5, "no_pointer_movement"})
	}
	if fs.NearLinearMovement {
		out = append(out, signal{65, 0.7, "linear_pointer_path"})
	}
	if fs.MicroTiming >= 0.9 {
		out = append(out, signal{70, 0.7, "injected_timing_randomness"})
	}
	if fs.MicroTiming <= 0.1 {
		out = append(out, signal{65, 0.7, "mechanical_timing"})
	}
	if fs.PointerCount >= 10 && fs.IntervalEntropy < 0.15 && fs.MicroTiming > 0.1 {
		out = append(out, signal{40, 0.5, "low_interval_entropy"})
	}
	if fs.PointerCount > 50 && fs.VelocityStdDev < 0.01 {
		out = append(out, signal{55, 0.6, "constant_velocity"})
	}

	return out
}

func automationSignals(fs features.FeatureSet) []signal {
	var out []signal

	if fs.Env.WebDriver {
		out = append(out, signal{95, 0.95, "webdriver_present"})
	}
	if fs.Env.UAAutomation {
		out = append(out, signal{90, 0.9, "automation_user_agent"})
	}
	if fs.Env.ZeroPlugins {
		out = append(out, signal{60, 0.6, "no_plugins"})
	}
	if fs.Env.SoftwareRenderer {
		out = append(out, signal{80, 0.8, "software_webgl_renderer"})
	}

	return out
}

func fingerprintSignals(fs features.FeatureSet) []signal {
	var out []signal

	if fs.Env.CanvasBlocked {
		out = append(out, signal{40, 0.4, "canvas_blocked"})
	}
	if fs.Env.PlatformMismatch {
		out = append(out, signal{60, 0.7, "ua_platform_mismatch"})
	}
	if fs.Env.MobileNoTouch {
		out = append(out, signal{50, 0.6, "mobile_without_touch"})
	}

	return out
}

func integritySignals(fs features.FeatureSet) []signal {
	var out []signal

	if fs.Env.NoOuterDims {
		out = append(out, signal{70, 0.7, "missing_outer_dimensions"})
	}
	if fs.Env.InnerEqualsOuter {
		out = append(out, signal{40, 0.5, "viewport_equals_window"})
	}
	if fs.Env.NoLanguages {
		out = append(out, signal{50, 0.5, "no_navigator_languages"})
	}

	return out
}

func velocitySignals(fs features.FeatureSet) []signal {
	var out []signal

	if fs.IntervalMean > 0 && fs.IntervalMean < 5 {
		out = append(out, signal{60, 0.5, "event_rate_too_high"})
	}
	if fs.DwellMean > 0 && fs.DwellMean < 30 {
		out = append(out, signal{55, 0.6, "impossible_key_dwell"})
	}
	if fs.PointerCount > 0 && fs.PointerCount < 5 && fs.KeyCount == 0 && fs.ScrollCount == 0 {
		out = append(out, signal{35, 0.4, "minimal_interaction"})
	}

	return out
}
