package gondt

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Score thresholds of the robust arbitration: a direct match above good is
// accepted outright, a reseeded match needs accept, and a reseeded match
// scoring below accept still falls back to the direct result above salvage.
// A reseed whose correlative or D2D stage does not converge ends in
// ErrNoAlignment.
const (
	defaultGoodScore    = 0.7
	defaultSalvageScore = 0.6
	defaultAcceptScore  = 0.4
)

// robustCellSizes is the fixed four-level schedule of the inner D2D.
var robustCellSizes = []float64{2, 1, 0.5, 0.25}

// RobustD2D wraps the D2D matcher with a recovery pipeline for bad initial
// guesses: direct D2D first, then a correlative reseed and a second D2D,
// optionally polished by ICP, every stage arbitrated by an independent
// lookup-table score of the candidate transform. Use NewRobustD2D to
// initialize.
type RobustD2D struct {
	d2d  *D2D
	corr *Correlative
	icp  *ICP

	source, target Cloud
	cellSize       float64
	useICP         bool

	goodScore    float64
	salvageScore float64
	acceptScore  float64

	converged  bool
	finalTrans *mat.Dense
}

// NewRobustD2D returns a wrapper around a D2D matcher configured with the
// fixed coarse-to-fine schedule {2, 1, 0.5, 0.25} and a 10 iteration cap per
// stage. The ICP refinement stage is wired but disabled.
func NewRobustD2D() *RobustD2D {
	r := &RobustD2D{
		d2d:          NewD2D(),
		corr:         NewCorrelative(),
		icp:          NewICP(),
		cellSize:     defaultBaseCellSize,
		goodScore:    defaultGoodScore,
		salvageScore: defaultSalvageScore,
		acceptScore:  defaultAcceptScore,
		finalTrans:   VecToMat(mat.NewVecDense(3, nil)),
	}
	if err := r.d2d.SetCellSizes(robustCellSizes); err != nil {
		panic(err) // unreachable: the schedule is a fixed valid sequence
	}
	if err := r.d2d.SetMaximumIterations(10); err != nil {
		panic(err)
	}
	return r
}

// SetInputSource registers the moving cloud with every stage.
func (r *RobustD2D) SetInputSource(cloud Cloud) error {
	if err := r.d2d.SetInputSource(cloud); err != nil {
		return err
	}
	if err := r.corr.SetInputSource(cloud); err != nil {
		return err
	}
	if err := r.icp.SetInputSource(cloud); err != nil {
		return err
	}
	r.source = cloud
	return nil
}

// SetInputTarget registers the fixed cloud with every stage.
func (r *RobustD2D) SetInputTarget(cloud Cloud) error {
	if err := r.d2d.SetInputTarget(cloud); err != nil {
		return err
	}
	if err := r.corr.SetInputTarget(cloud); err != nil {
		return err
	}
	if err := r.icp.SetInputTarget(cloud); err != nil {
		return err
	}
	r.target = cloud
	return nil
}

// SetNumLayers forwards to the inner D2D.
func (r *RobustD2D) SetNumLayers(n int) error {
	return r.d2d.SetNumLayers(n)
}

// NumLayers returns the inner D2D resolution count.
func (r *RobustD2D) NumLayers() int {
	return r.d2d.NumLayers()
}

// SetCellSize sets the finest cell side for the inner D2D and the validator.
func (r *RobustD2D) SetCellSize(base float64) error {
	if err := r.d2d.SetCellSize(base); err != nil {
		return err
	}
	r.cellSize = base
	return nil
}

// CellSize returns the validator cell side.
func (r *RobustD2D) CellSize() float64 {
	return r.cellSize
}

// SetStepSize forwards to the inner D2D.
func (r *RobustD2D) SetStepSize(s float64) error {
	return r.d2d.SetStepSize(s)
}

// SetOutlierRatio forwards to the inner D2D.
func (r *RobustD2D) SetOutlierRatio(ratio float64) error {
	return r.d2d.SetOutlierRatio(ratio)
}

// SetMaximumIterations forwards to the inner D2D, replacing the per-stage
// cap.
func (r *RobustD2D) SetMaximumIterations(n int) error {
	return r.d2d.SetMaximumIterations(n)
}

// SetTransformationEpsilon forwards to the inner D2D.
func (r *RobustD2D) SetTransformationEpsilon(eps float64) error {
	return r.d2d.SetTransformationEpsilon(eps)
}

// SetWorkers forwards to the inner D2D and the correlative stage.
func (r *RobustD2D) SetWorkers(n int) error {
	if err := r.d2d.SetWorkers(n); err != nil {
		return err
	}
	return r.corr.SetWorkers(n)
}

// EnableICPRefinement toggles the optional fourth stage that polishes the
// reseeded match with ICP.
func (r *RobustD2D) EnableICPRefinement(on bool) {
	r.useICP = on
}

// HasConverged reports whether the last Align accepted a transform.
func (r *RobustD2D) HasConverged() bool {
	return r.converged
}

// FinalTransformation returns the accepted transform.
func (r *RobustD2D) FinalTransformation() *mat.Dense {
	return mat.DenseCopyOf(r.finalTrans)
}

// TransformationProbability is delegated to the inner D2D.
func (r *RobustD2D) TransformationProbability() float64 {
	return r.d2d.TransformationProbability()
}

// FinalNumIterations is delegated to the inner D2D.
func (r *RobustD2D) FinalNumIterations() int {
	return r.d2d.FinalNumIterations()
}

// Covariance is delegated to the inner D2D.
func (r *RobustD2D) Covariance() *mat.SymDense {
	return r.d2d.Covariance()
}

// Information is delegated to the inner D2D.
func (r *RobustD2D) Information() *mat.SymDense {
	return r.d2d.Information()
}

// Align runs the staged pipeline and returns the transformed source under
// the accepted transform. When no stage produces an acceptable candidate the
// final transformation is identity and the error wraps ErrNoAlignment.
func (r *RobustD2D) Align(guess *mat.Dense) (Cloud, Estimate, error) {
	if len(r.source) == 0 || len(r.target) == 0 {
		return nil, NewAlignmentEstimate(nil, nil, nil, 0, 0, false), ErrEmptyCloud
	}
	r.converged = false
	r.finalTrans = VecToMat(mat.NewVecDense(3, nil))

	// Stage 1: direct D2D for good guesses.
	_, _, d2dErr := r.d2d.Align(guess)
	first := r.d2d.FinalTransformation()
	firstScore := r.proofTransform(first)
	if d2dErr == nil && r.d2d.HasConverged() && firstScore > r.goodScore {
		return r.accept(first), r.estimate(), nil
	}

	// Stage 2: correlative reseed.
	_, _, corrErr := r.corr.Align(guess)
	if corrErr != nil || !r.corr.HasConverged() {
		return nil, r.estimate(), fmt.Errorf("%w: correlative seed failed", ErrNoAlignment)
	}

	// Stage 3: D2D from the seed.
	_, _, d2dErr = r.d2d.Align(r.corr.FinalTransformation())
	if d2dErr != nil || !r.d2d.HasConverged() {
		return nil, r.estimate(), fmt.Errorf("%w: reseeded match failed", ErrNoAlignment)
	}
	second := r.d2d.FinalTransformation()

	// Stage 4 (optional): ICP polish of the reseeded match.
	if r.useICP {
		if _, _, err := r.icp.Align(second); err == nil && r.icp.HasConverged() {
			second = r.icp.FinalTransformation()
		}
	}

	secondScore := r.proofTransform(second)
	switch {
	case secondScore >= r.acceptScore:
		return r.accept(second), r.estimate(), nil
	case firstScore > r.salvageScore:
		return r.accept(first), r.estimate(), nil
	default:
		return nil, r.estimate(), fmt.Errorf("%w: scores %f and %f below thresholds", ErrNoAlignment, firstScore, secondScore)
	}
}

// accept installs trans as the result and transforms the source by it.
func (r *RobustD2D) accept(trans *mat.Dense) Cloud {
	r.converged = true
	r.finalTrans = trans
	return r.source.Transform(trans)
}

// estimate snapshots the current result state, delegating the uncertainty to
// the inner D2D.
func (r *RobustD2D) estimate() Estimate {
	return NewAlignmentEstimate(mat.DenseCopyOf(r.finalTrans), r.d2d.Covariance(), r.d2d.Information(),
		r.d2d.TransformationProbability(), r.d2d.FinalNumIterations(), r.converged)
}

// proofTransform scores a candidate transform with a lookup table built over
// the target, independently of the D2D objective.
func (r *RobustD2D) proofTransform(trans *mat.Dense) float64 {
	table := NewLookUpTable()
	if err := table.InitGrid(r.target, r.cellSize, 0.5); err != nil {
		return 0
	}
	return table.Score(r.source.Transform(trans))
}
