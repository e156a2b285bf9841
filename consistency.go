package gondt

import (
	"errors"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// NewNEESTest computes the normalized estimation error squared of the
// Monte-Carlo runs against the known truth pose, weighting each error with
// the information matrix the run reported. Non-converged runs are skipped.
// Returns the per-run samples and their mean.
func NewNEESTest(runs MonteCarloRuns, truth *mat.VecDense) ([]float64, float64, error) {
	if len(runs.Estimates) == 0 {
		return nil, 0, errors.New("NEES requires at least one run")
	}
	samples := make([]float64, 0, len(runs.Estimates))
	for _, est := range runs.Estimates {
		if !est.Converged() {
			continue
		}
		e := mat.NewVecDense(3, nil)
		e.SubVec(est.Pose(), truth)
		we := mat.NewVecDense(3, nil)
		we.MulVec(est.Information(), e)
		// The stored information matrix is the inverse Hessian of a
		// maximized objective and is negative definite near the optimum;
		// negate the quadratic form to get the usual NEES sign.
		samples = append(samples, -mat.Dot(e, we))
	}
	if len(samples) == 0 {
		return nil, 0, errors.New("NEES requires at least one converged run")
	}
	return samples, stat.Mean(samples, nil), nil
}
