package features

import "math"

const entropyBins = 20

// mean returns the arithmetic mean, or 0 for an empty slice.
func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdDev returns the population standard deviation, or 0 for fewer than two
// samples.
func stdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// skewness returns the sample skewness. Requires at least 3 samples, else 0.
func skewness(xs []float64) float64 {
	if len(xs) < 3 {
		return 0
	}
	m := mean(xs)
	sd := stdDev(xs)
	if sd == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		z := (x - m) / sd
		sum += z * z * z
	}
	return sum / float64(len(xs))
}

// kurtosis returns the excess kurtosis. Requires at least 4 samples, else 0.
func kurtosis(xs []float64) float64 {
	if len(xs) < 4 {
		return 0
	}
	m := mean(xs)
	sd := stdDev(xs)
	if sd == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		z := (x - m) / sd
		sum += z * z * z * z
	}
	return sum/float64(len(xs)) - 3
}

// intervalEntropy bins values into 20 equal-width buckets over the observed
// range and returns normalized Shannon entropy: 0 for degenerate/constant
// spacing, 1 for maximally uniform spread.
func intervalEntropy(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}

	lo, hi := xs[0], xs[0]
	for _, x := range xs {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	if hi == lo {
		// No spread at all carries no information and is itself suspicious.
		return 0
	}

	var hist [entropyBins]int
	width := (hi - lo) / entropyBins
	for _, x := range xs {
		idx := int((x - lo) / width)
		if idx >= entropyBins {
			idx = entropyBins - 1
		}
		hist[idx]++
	}

	var h float64
	n := float64(len(xs))
	for _, c := range hist {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}

	return h / math.Log2(entropyBins)
}

// lag1Autocorrelation returns the lag-1 autocorrelation coefficient of the
// series, or 0 when it is undefined (fewer than 3 samples or zero variance).
func lag1Autocorrelation(xs []float64) float64 {
	if len(xs) < 3 {
		return 0
	}
	m := mean(xs)
	var num, den float64
	for i := 0; i < len(xs)-1; i++ {
		num += (xs[i] - m) * (xs[i+1] - m)
	}
	for _, x := range xs {
		d := x - m
		den += d * d
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// microTimingScore combines interval entropy with lag-1 autocorrelation.
// High entropy with near-zero autocorrelation reads as injected randomness
// (0.9); very low entropy reads as mechanical regularity (0.1); otherwise the
// raw entropy passes through. Needs at least 10 intervals, else neutral 0.5.
func microTimingScore(intervals []float64) float64 {
	if len(intervals) < 10 {
		return 0.5
	}

	entropy := intervalEntropy(intervals)
	autocorr := lag1Autocorrelation(intervals)

	switch {
	case entropy > 0.85 && math.Abs(autocorr) < 0.1:
		return 0.9
	case entropy < 0.15:
		return 0.1
	default:
		return entropy
	}
}

// mengerCurvature computes the Menger curvature of three consecutive points:
// 4*area / (|ab|*|bc|*|ca|). Collinear points yield 0.
func mengerCurvature(ax, ay, bx, by, cx, cy float64) float64 {
	area2 := math.Abs((bx-ax)*(cy-ay) - (cx-ax)*(by-ay)) // twice the triangle area
	ab := math.Hypot(bx-ax, by-ay)
	bc := math.Hypot(cx-bx, cy-by)
	ca := math.Hypot(ax-cx, ay-cy)
	d := ab * bc * ca
	if d == 0 {
		return 0
	}
	return 2 * area2 / d
}

// clamp01 bounds x to [0, 1] and zeroes NaN.
func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
