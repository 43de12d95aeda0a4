package stats

import (
	"errors"
	"math"
)

// ErrInsufficientSamples is returned when either side has fewer than two
// samples, which makes the variance (and so the test) undefined.
var ErrInsufficientSamples = errors.New("stats: welch requires at least 2 samples per side")

// WelchResult carries the outcome of a two-sample unequal-variance t-test.
// The one-sided p-value is the Student-t CDF at T = (canary mean − baseline
// mean)/SE: near 0 when the canary is clearly worse, near 1 when clearly better.
type WelchResult struct {
	T            float64
	DF           float64
	PTwoSided    float64
	POneSided    float64
	BaselineMean float64
	CanaryMean   float64
	CILow        float64
	CIHigh       float64
}

// Welch runs Welch's t-test on raw baseline and canary samples.
func Welch(baseline, canary []float64) (WelchResult, error) {
	n1 := len(baseline)
	n2 := len(canary)
	if n1 < 2 || n2 < 2 {
		return WelchResult{}, ErrInsufficientSamples
	}

	mean1, var1 := meanVariance(baseline)
	mean2, var2 := meanVariance(canary)

	se2 := var1/float64(n1) + var2/float64(n2)
	se := math.Sqrt(se2)
	if se == 0 {
		// Degenerate: identical constant samples on both sides. No evidence
		// either way.
		return WelchResult{
			T:            0,
			DF:           float64(n1 + n2 - 2),
			PTwoSided:    1,
			POneSided:    0.5,
			BaselineMean: mean1,
			CanaryMean:   mean2,
		}, nil
	}

	t := (mean2 - mean1) / se

	// Welch–Satterthwaite degrees of freedom.
	a := var1 / float64(n1)
	b := var2 / float64(n2)
	df := (a + b) * (a + b) / (a*a/float64(n1-1) + b*b/float64(n2-1))

	pTwo := 2 * StudentTCDF(-math.Abs(t), df)
	pOne := StudentTCDF(t, df)

	tCrit := StudentTQuantile(0.975, df)
	diff := mean2 - mean1

	return WelchResult{
		T:            t,
		DF:           df,
		PTwoSided:    pTwo,
		POneSided:    pOne,
		BaselineMean: mean1,
		CanaryMean:   mean2,
		CILow:        diff - se*tCrit,
		CIHigh:       diff + se*tCrit,
	}, nil
}

func meanVariance(samples []float64) (mean, variance float64) {
	n := float64(len(samples))
	for _, x := range samples {
		mean += x
	}
	mean /= n
	for _, x := range samples {
		d := x - mean
		variance += d * d
	}
	variance /= n - 1
	return mean, variance
}
