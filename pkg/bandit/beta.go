package bandit

import (
	"math"
	"math/rand"
)

// sampleBeta draws from Beta(alpha, beta) as a ratio of two gamma draws.
func sampleBeta(rng *rand.Rand, alpha, beta float64) float64 {
	x := sampleGamma(rng, alpha)
	y := sampleGamma(rng, beta)

	if x+y == 0 {
		return 0.5
	}

	return x / (x + y)
}

// sampleGamma draws from Gamma(shape, 1) using the Marsaglia-Tsang squeeze
// method. Shapes below one are boosted and scaled back per the standard
// transformation.
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape <= 0 {
		return 0
	}

	if shape < 1 {
		u := rng.Float64()
		for u == 0 {
			u = rng.Float64()
		}

		return sampleGamma(rng, shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / (3.0 * math.Sqrt(d))

	for {
		x := rng.NormFloat64()

		v := 1 + c*x
		if v <= 0 {
			continue
		}

		v = v * v * v
		u := rng.Float64()

		if u < 1-0.0331*x*x*x*x {
			return d * v
		}

		if u > 0 && math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
