package gondt

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distmv"
)

// MonteCarloRuns stores MC registration runs.
type MonteCarloRuns struct {
	runs      int
	Estimates []Estimate
}

// NewMonteCarloRuns aligns the clouds `samples` times with the guess pose
// perturbed by a zero-mean Gaussian of covariance guessCov (3x3, over
// x, y, θ) each run, using the provided matcher.
func NewMonteCarloRuns(samples int, reg Registration, source, target Cloud, guess *mat.VecDense, guessCov *mat.SymDense, seed uint64) (MonteCarloRuns, error) {
	if samples < 1 {
		return MonteCarloRuns{}, fmt.Errorf("%w: sample count %d must be at least 1", ErrInvalidParameter, samples)
	}
	dist, ok := distmv.NewNormal(make([]float64, 3), guessCov, rand.New(rand.NewSource(seed)))
	if !ok {
		return MonteCarloRuns{}, fmt.Errorf("%w: guess covariance is not positive-definite", ErrInvalidParameter)
	}
	if err := reg.SetInputSource(source); err != nil {
		return MonteCarloRuns{}, err
	}
	if err := reg.SetInputTarget(target); err != nil {
		return MonteCarloRuns{}, err
	}

	mc := MonteCarloRuns{runs: samples, Estimates: make([]Estimate, samples)}
	for sample := 0; sample < samples; sample++ {
		offset := dist.Rand(nil)
		perturbed := NewPose(
			guess.AtVec(0)+offset[0],
			guess.AtVec(1)+offset[1],
			guess.AtVec(2)+offset[2],
		)
		// An overlap or salvage failure is a data point, not an error.
		_, est, _ := reg.Align(VecToMat(perturbed))
		mc.Estimates[sample] = est
	}
	return mc, nil
}

// Mean returns the per-component mean of the recovered poses.
func (mc MonteCarloRuns) Mean() []float64 {
	means := make([]float64, 3)
	samples := make([]float64, len(mc.Estimates))
	for i := 0; i < 3; i++ {
		for r, est := range mc.Estimates {
			samples[r] = est.Pose().AtVec(i)
		}
		means[i] = stat.Mean(samples, nil)
	}
	return means
}

// StdDev returns the per-component standard deviation of the recovered
// poses.
func (mc MonteCarloRuns) StdDev() []float64 {
	devs := make([]float64, 3)
	samples := make([]float64, len(mc.Estimates))
	for i := 0; i < 3; i++ {
		for r, est := range mc.Estimates {
			samples[r] = est.Pose().AtVec(i)
		}
		devs[i] = stat.StdDev(samples, nil)
	}
	return devs
}

// ConvergedFraction returns the share of runs that converged.
func (mc MonteCarloRuns) ConvergedFraction() float64 {
	if mc.runs == 0 {
		return 0
	}
	n := 0
	for _, est := range mc.Estimates {
		if est.Converged() {
			n++
		}
	}
	return float64(n) / float64(mc.runs)
}
