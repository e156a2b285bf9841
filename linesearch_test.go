package gondt

import (
	"math"
	"testing"
)

func TestUpdateIntervalMT(t *testing.T) {
	// U1: trial above the lower endpoint replaces the upper endpoint.
	l := lsPoint{a: 0, f: 0, g: -1}
	u := lsPoint{a: 0, f: 0, g: -1}
	if updateIntervalMT(&l, &u, lsPoint{a: 1, f: 2, g: 1}) {
		t.Fatal("U1 reported convergence")
	}
	if u.a != 1 || u.f != 2 {
		t.Fatal("U1 did not replace the upper endpoint")
	}

	// U2: derivative pointing away replaces the lower endpoint.
	l = lsPoint{a: 0, f: 0, g: -1}
	u = lsPoint{a: 0, f: 0, g: -1}
	if updateIntervalMT(&l, &u, lsPoint{a: 1, f: -1, g: -0.5}) {
		t.Fatal("U2 reported convergence")
	}
	if l.a != 1 || l.f != -1 {
		t.Fatal("U2 did not replace the lower endpoint")
	}

	// U3: derivative pointing toward the lower endpoint swaps it up.
	l = lsPoint{a: 0, f: 0, g: -1}
	u = lsPoint{a: 5, f: 3, g: 1}
	if updateIntervalMT(&l, &u, lsPoint{a: 1, f: -1, g: 0.5}) {
		t.Fatal("U3 reported convergence")
	}
	if u.a != 0 || l.a != 1 {
		t.Fatal("U3 did not rotate the endpoints")
	}

	// Otherwise the interval has converged.
	l = lsPoint{a: 1, f: 0, g: -1}
	u = lsPoint{a: 1, f: 3, g: 1}
	if !updateIntervalMT(&l, &u, lsPoint{a: 1, f: -1, g: 0}) {
		t.Fatal("degenerate trial did not converge the interval")
	}
}

func TestTrialValueSelectionCases(t *testing.T) {
	// Case 1: f_t > f_l must land between the endpoints.
	l := lsPoint{a: 0, f: 0, g: -1}
	u := lsPoint{a: 0, f: 0, g: -1}
	at := trialValueSelectionMT(l, u, lsPoint{a: 1, f: 1, g: 1})
	if at <= 0 || at >= 1 {
		t.Fatalf("case 1 trial %f outside (0,1)", at)
	}

	// Case 2: opposite derivative signs interpolate between trial and lower.
	at = trialValueSelectionMT(lsPoint{a: 0, f: 0, g: -1}, u, lsPoint{a: 1, f: -0.5, g: 0.8})
	if at <= 0 || at >= 1 {
		t.Fatalf("case 2 trial %f outside (0,1)", at)
	}

	// Case 3: shrinking derivative magnitude extrapolates but stays bounded
	// by the 0.66 rule toward the upper endpoint.
	l = lsPoint{a: 0, f: 0, g: -1}
	u = lsPoint{a: 4, f: 1, g: 2}
	trial := lsPoint{a: 1, f: -0.6, g: -0.3}
	at = trialValueSelectionMT(l, u, trial)
	if at > trial.a+0.66*(u.a-trial.a)+1e-12 {
		t.Fatalf("case 3 trial %f beyond the extrapolation bound", at)
	}

	// The quadratic minimizer of a parabola is exact: for φ(α) = (α−2)²,
	// case 1 with f_l=4,g_l=−4 at a_l=0 and f_t=4 at a_t=4 must return 2.
	l = lsPoint{a: 0, f: 4, g: -4}
	at = trialValueSelectionMT(l, u, lsPoint{a: 4, f: 4.000001, g: 4})
	if math.Abs(at-2) > 1e-3 {
		t.Fatalf("parabola minimizer %f, want 2", at)
	}
}

func TestPsiFunctions(t *testing.T) {
	// ψ(0) = 0 and ψ'(0) = (1−μ)·φ'(0) by construction.
	if psi(0, 5, 5, -1) != 0 {
		t.Fatal("ψ(0) must vanish")
	}
	if math.Abs(dPsi(-1, -1)-(-1+lsMu)) > 1e-15 {
		t.Fatal("ψ'(0) incorrect")
	}
}

func TestComputeStepLengthClamps(t *testing.T) {
	src, tgt, param := scoreFixture(t, 2)
	d := NewD2D()
	pose := NewPose(0.3, 0, 0)
	score := d.calcScore(param, src, tgt, pose, true)

	dir := NewPose(-1, 0, 0)
	step := d.computeStepLengthMT(pose, dir, 0.5, 0.1, 0.01, score, src, tgt, param)
	if step < 0.01-1e-12 || step > 0.1+1e-12 {
		t.Fatalf("step %f outside [0.01, 0.1]", step)
	}
}
