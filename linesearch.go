package gondt

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// More–Thuente line search constants: sufficient decrease (μ), curvature (ν)
// and the inner iteration cap.
const (
	lsMu            = 1e-4
	lsNu            = 0.9
	lsMaxIterations = 10
)

// lsPoint is one interval endpoint of the More–Thuente search: the step with
// its function value and derivative (of ψ while the interval is open, of φ
// once it is closed).
type lsPoint struct {
	a, f, g float64
}

// psi is the auxiliary function ψ(α) = φ(α) − φ(0) − μ·φ'(0)·α used until the
// interval is determined to be closed (eq. 2.1, More–Thuente 1994).
func psi(a, fa, f0, g0 float64) float64 {
	return fa - f0 - lsMu*g0*a
}

// dPsi is the derivative of the auxiliary function.
func dPsi(ga, g0 float64) float64 {
	return ga - lsMu*g0
}

// computeStepLengthMT finds a step length along stepDir that satisfies the
// sufficient decrease and curvature conditions, following More & Thuente
// (1994). x is the current pose, stepDir a unit direction, stepInit the
// suggested step and score the already-evaluated derivatives at x. A zero
// directional derivative returns 0; otherwise the returned step is clamped
// to [stepMin, stepMax]. stepDir may be reversed in place when it is not a
// descent direction.
func (d *D2D) computeStepLengthMT(x, stepDir *mat.VecDense, stepInit, stepMax, stepMin float64, score ScoreTriple, srcGrid, tgtGrid *VoxelGrid, param FittingParams) float64 {
	// φ(α) = −value(x + α·δ); its derivatives follow with reversed sign.
	phi0 := -score.Value
	dPhi0 := -mat.Dot(score.Gradient, stepDir)

	if dPhi0 >= 0 {
		if dPhi0 == 0 {
			return 0
		}
		// Reverse the direction and search the other way.
		dPhi0 = -dPhi0
		stepDir.ScaleVec(-1, stepDir)
	}

	l := lsPoint{a: 0, f: psi(0, phi0, phi0, dPhi0), g: dPsi(dPhi0, dPhi0)}
	u := lsPoint{a: 0, f: psi(0, phi0, phi0, dPhi0), g: dPsi(dPhi0, dPhi0)}

	// The search loop is skipped only when stepMax < stepMin; with
	// stepMin == stepMax it still runs, every trial clamped to that step.
	intervalConverged := (stepMax - stepMin) < 0
	openInterval := true

	at := math.Min(stepInit, stepMax)
	at = math.Max(at, stepMin)

	xt := mat.NewVecDense(3, nil)
	xt.AddScaledVec(x, at, stepDir)
	vals := d.calcScore(param, srcGrid, tgtGrid, xt, false)

	phiT := -vals.Value
	dPhiT := -mat.Dot(vals.Gradient, stepDir)
	psiT := psi(at, phiT, phi0, dPhi0)
	dPsiT := dPsi(dPhiT, dPhi0)

	iterations := 0
	for !intervalConverged && iterations < lsMaxIterations &&
		!(psiT <= 0 && dPhiT <= -lsNu*dPhi0) {
		if openInterval {
			at = trialValueSelectionMT(l, u, lsPoint{at, psiT, dPsiT})
		} else {
			at = trialValueSelectionMT(l, u, lsPoint{at, phiT, dPhiT})
		}
		at = math.Min(at, stepMax)
		at = math.Max(at, stepMin)

		xt.AddScaledVec(x, at, stepDir)
		vals = d.calcScore(param, srcGrid, tgtGrid, xt, false)

		phiT = -vals.Value
		dPhiT = -mat.Dot(vals.Gradient, stepDir)
		psiT = psi(at, phiT, phi0, dPhi0)
		dPsiT = dPsi(dPhiT, dPhi0)

		if openInterval && psiT <= 0 && dPsiT >= 0 {
			// The interval is closed: convert the stored endpoint values
			// from ψ to φ.
			openInterval = false
			l.f += phi0 - lsMu*dPhi0*l.a
			l.g += lsMu * dPhi0
			u.f += phi0 - lsMu*dPhi0*u.a
			u.g += lsMu * dPhi0
		}

		if openInterval {
			intervalConverged = updateIntervalMT(&l, &u, lsPoint{at, psiT, dPsiT})
		} else {
			intervalConverged = updateIntervalMT(&l, &u, lsPoint{at, phiT, dPhiT})
		}
		iterations++
	}

	return at
}

// updateIntervalMT applies the interval updating algorithm (More–Thuente
// 1994, and its modified variant once the interval is closed). Returns true
// when the interval has converged.
func updateIntervalMT(l, u *lsPoint, t lsPoint) bool {
	switch {
	// Case U1: the trial value lies above the lower endpoint.
	case t.f > l.f:
		*u = t
		return false
	// Case U2: the derivative points away from the lower endpoint.
	case t.g*(l.a-t.a) > 0:
		*l = t
		return false
	// Case U3: the derivative points toward the lower endpoint.
	case t.g*(l.a-t.a) < 0:
		*u = *l
		*l = t
		return false
	default:
		return true
	}
}

// cubicMinimizer interpolates (p.a, p.f, p.g) and (q.a, q.f, q.g) with a
// cubic and returns its minimizer (eq. 2.4.52/2.4.56, Sun & Yuan 2006).
func cubicMinimizer(p, q lsPoint) float64 {
	z := 3*(q.f-p.f)/(q.a-p.a) - q.g - p.g
	w := math.Sqrt(z*z - q.g*p.g)
	return p.a + (q.a-p.a)*(w-p.g-z)/(q.g-p.g+2*w)
}

// secantMinimizer interpolates the derivatives at the two points (eq. 2.4.5,
// Sun & Yuan 2006).
func secantMinimizer(p, q lsPoint) float64 {
	return p.a - (p.a-q.a)/(p.g-q.g)*p.g
}

// trialValueSelectionMT selects the next trial step from the interval
// endpoints l, u and the current trial t, matching Table 2.1 of More–Thuente
// (1994).
func trialValueSelectionMT(l, u, t lsPoint) float64 {
	switch {
	// Case 1: the trial value is above the lower endpoint.
	case t.f > l.f:
		ac := cubicMinimizer(l, t)
		// Quadratic through f_l, g_l and f_t (eq. 2.4.2, Sun & Yuan 2006).
		aq := l.a - 0.5*(l.a-t.a)*l.g/(l.g-(l.f-t.f)/(l.a-t.a))
		if math.Abs(ac-l.a) < math.Abs(aq-l.a) {
			return ac
		}
		return 0.5 * (aq + ac)
	// Case 2: the derivatives have opposite signs.
	case t.g*l.g < 0:
		ac := cubicMinimizer(l, t)
		as := secantMinimizer(l, t)
		if math.Abs(ac-t.a) >= math.Abs(as-t.a) {
			return ac
		}
		return as
	// Case 3: the derivative magnitude shrank.
	case math.Abs(t.g) <= math.Abs(l.g):
		ac := cubicMinimizer(l, t)
		as := secantMinimizer(l, t)
		var next float64
		if math.Abs(ac-t.a) < math.Abs(as-t.a) {
			next = ac
		} else {
			next = as
		}
		// Bound the extrapolation toward the upper endpoint.
		if t.a > l.a {
			return math.Min(t.a+0.66*(u.a-t.a), next)
		}
		return math.Max(t.a+0.66*(u.a-t.a), next)
	// Case 4: interpolate against the upper endpoint instead.
	default:
		return cubicMinimizer(u, t)
	}
}
