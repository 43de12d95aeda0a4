package stats

import "math"

// Student-t CDF and quantile built on the regularized incomplete beta
// function. Everything here is deterministic pure math; accuracy is well
// beyond what the gate confidences in [0.5, 0.999] require.

const (
	betaMaxIterations = 250
	betaEpsilon       = 1e-11
	lentzTiny         = 1e-30
)

// StudentTCDF returns P(T <= t) for a Student-t variable with df degrees of
// freedom.
func StudentTCDF(t, df float64) float64 {
	if df <= 0 {
		return math.NaN()
	}
	x := df / (df + t*t)
	ib := RegIncompleteBeta(x, df/2, 0.5)
	if t >= 0 {
		return 1 - 0.5*ib
	}
	return 0.5 * ib
}

// StudentTQuantile returns the t value with CDF p, by bisection on [-50, 50].
func StudentTQuantile(p, df float64) float64 {
	lo, hi := -50.0, 50.0
	var mid float64
	for i := 0; i < 120; i++ {
		mid = (lo + hi) / 2
		if StudentTCDF(mid, df) < p {
			lo = mid
		} else {
			hi = mid
		}
	}
	return mid
}

// RegIncompleteBeta computes I_x(a, b), the regularized incomplete beta
// function, via the Lentz continued-fraction expansion.
func RegIncompleteBeta(x, a, b float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	// The continued fraction converges fast only for x below the mean of the
	// distribution; use the symmetry for the other half.
	if x > (a+1)/(a+b+2) {
		return 1 - RegIncompleteBeta(1-x, b, a)
	}
	lnBeta := LnGamma(a) + LnGamma(b) - LnGamma(a+b)
	front := math.Exp(a*math.Log(x)+b*math.Log(1-x)-lnBeta) / a
	return front * betaContinuedFraction(x, a, b)
}

func betaContinuedFraction(x, a, b float64) float64 {
	qab := a + b
	qap := a + 1
	qam := a - 1

	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < lentzTiny {
		d = lentzTiny
	}
	d = 1 / d
	h := d

	for m := 1; m <= betaMaxIterations; m++ {
		m2 := float64(2 * m)
		fm := float64(m)

		// Even step numerator.
		aa := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < lentzTiny {
			d = lentzTiny
		}
		c = 1 + aa/c
		if math.Abs(c) < lentzTiny {
			c = lentzTiny
		}
		d = 1 / d
		h *= d * c

		// Odd step numerator.
		aa = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < lentzTiny {
			d = lentzTiny
		}
		c = 1 + aa/c
		if math.Abs(c) < lentzTiny {
			c = lentzTiny
		}
		d = 1 / d
		delta := d * c
		h *= delta

		if math.Abs(delta-1) < betaEpsilon {
			break
		}
	}
	return h
}

// lanczosG and lanczosCoefficients implement the g=7, n=9 Lanczos
// approximation of the gamma function.
const lanczosG = 7.0

var lanczosCoefficients = [9]float64{
	0.99999999999980993,
	676.5203681218851,
	-1259.1392167224028,
	771.32342877765313,
	-176.61502916214059,
	12.507343278686905,
	-0.13857109526572012,
	9.9843695780195716e-6,
	1.5056327351493116e-7,
}

// LnGamma returns ln Γ(z) for z > 0, with the reflection formula for
// z < 0.5.
func LnGamma(z float64) float64 {
	if z < 0.5 {
		// Γ(z) Γ(1−z) = π / sin(πz)
		return math.Log(math.Pi/math.Sin(math.Pi*z)) - LnGamma(1-z)
	}
	z--
	x := lanczosCoefficients[0]
	for i := 1; i < len(lanczosCoefficients); i++ {
		x += lanczosCoefficients[i] / (z + float64(i))
	}
	t := z + lanczosG + 0.5
	return 0.5*math.Log(2*math.Pi) + (z+0.5)*math.Log(t) - t + math.Log(x)
}
