package profile

import "math"

// Step applies one exponential-moving-average update to every dimension:
// new = round3(clamp01(old + rate*(feature-old))).
func Step(old, feature Vector, rate float64) Vector {
	var out Vector
	for i := range old {
		out[i] = round3(clamp01(old[i] + rate*(feature[i]-old[i])))
	}
	return out
}

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

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}

// Normalize clamps and rounds every slot so v satisfies the stored-vector
// invariant.
func Normalize(v Vector) Vector {
	var out Vector
	for i := range v {
		out[i] = round3(clamp01(v[i]))
	}
	return out
}
