package gondt

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Defaults of the D2D matcher.
const (
	defaultStepSize              = 0.1
	defaultOutlierRatio          = 0.55
	defaultLayerCount            = 4
	defaultBaseCellSize          = 0.25
	defaultMaxIterations         = 35
	defaultTransformationEpsilon = 0.1
	defaultWorkers               = 2
)

// D2D is the multi-resolution Distribution-to-Distribution NDT matcher for
// planar scans. It fits Gaussians to voxel cells of both clouds and runs a
// Newton iteration with a More–Thuente line search from the coarsest to the
// finest grid. Use NewD2D to initialize.
type D2D struct {
	source, target Cloud

	cellSizes    []float64
	baseCellSize float64
	layerCount   int
	stepSize     float64
	outlierRatio float64
	maxIter      int
	epsilon      float64
	workers      int
	params       []FittingParams

	converged        bool
	finalTrans       *mat.Dense
	transProbability float64
	iterations       int
	// covariance holds the final score Hessian and information its inverse.
	// The names come from the accessor contract and suggest the opposite
	// relation; callers relying on a proper covariance must invert.
	covariance  *mat.SymDense
	information *mat.SymDense
}

// NewD2D returns a matcher with the default configuration: four layers over
// a 0.25 base cell, step size 0.1, outlier ratio 0.55, 35 iterations and a
// transformation epsilon of 0.1.
func NewD2D() *D2D {
	d := &D2D{
		baseCellSize: defaultBaseCellSize,
		layerCount:   defaultLayerCount,
		stepSize:     defaultStepSize,
		outlierRatio: defaultOutlierRatio,
		maxIter:      defaultMaxIterations,
		epsilon:      defaultTransformationEpsilon,
		workers:      defaultWorkers,
		finalTrans:   VecToMat(mat.NewVecDense(3, nil)),
		covariance:   Identity(3),
		information:  Identity(3),
	}
	d.initCellSizes()
	if err := d.initParams(); err != nil {
		panic(err) // unreachable with the default configuration
	}
	return d
}

// SetInputSource registers the moving cloud.
func (d *D2D) SetInputSource(cloud Cloud) error {
	if len(cloud) == 0 {
		return ErrEmptyCloud
	}
	d.source = cloud
	return nil
}

// SetInputTarget registers the fixed cloud.
func (d *D2D) SetInputTarget(cloud Cloud) error {
	if len(cloud) == 0 {
		return ErrEmptyCloud
	}
	d.target = cloud
	return nil
}

// SetNumLayers sets the resolution count. Cell sizes are rebuilt as
// {b·2^(L−1), …, 2b, b} from the current base size.
func (d *D2D) SetNumLayers(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: layer count %d must be at least 1", ErrInvalidParameter, n)
	}
	d.layerCount = n
	d.initCellSizes()
	return d.initParams()
}

// NumLayers returns the resolution count.
func (d *D2D) NumLayers() int {
	return d.layerCount
}

// SetCellSize sets the finest cell side length; coarser layers double it.
func (d *D2D) SetCellSize(base float64) error {
	if base <= 0 {
		return fmt.Errorf("%w: cell size %f must be positive", ErrInvalidParameter, base)
	}
	d.baseCellSize = base
	d.initCellSizes()
	return d.initParams()
}

// SetCellSizes installs an explicit cell size sequence. The sizes are sorted
// coarsest to finest on ingest and the layer count follows the sequence.
func (d *D2D) SetCellSizes(sizes []float64) error {
	if len(sizes) == 0 {
		return fmt.Errorf("%w: empty cell size sequence", ErrInvalidParameter)
	}
	sorted := append([]float64(nil), sizes...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	for i, s := range sorted {
		if s <= 0 {
			return fmt.Errorf("%w: cell size %f must be positive", ErrInvalidParameter, s)
		}
		if i > 0 && s == sorted[i-1] {
			return fmt.Errorf("%w: duplicate cell size %f", ErrInvalidParameter, s)
		}
	}
	d.cellSizes = sorted
	d.layerCount = len(sorted)
	d.baseCellSize = sorted[len(sorted)-1]
	return d.initParams()
}

// CellSizes returns the cell size sequence, coarsest first.
func (d *D2D) CellSizes() []float64 {
	return append([]float64(nil), d.cellSizes...)
}

// SetStepSize sets the maximum Newton line search step length.
func (d *D2D) SetStepSize(s float64) error {
	if s <= 0 {
		return fmt.Errorf("%w: step size %f must be positive", ErrInvalidParameter, s)
	}
	d.stepSize = s
	return nil
}

// StepSize returns the maximum line search step length.
func (d *D2D) StepSize() float64 {
	return d.stepSize
}

// SetOutlierRatio sets the point cloud outlier ratio.
func (d *D2D) SetOutlierRatio(r float64) error {
	if r <= 0 || r >= 1 {
		return fmt.Errorf("%w: outlier ratio %f not in (0,1)", ErrInvalidParameter, r)
	}
	d.outlierRatio = r
	return d.initParams()
}

// OutlierRatio returns the point cloud outlier ratio.
func (d *D2D) OutlierRatio() float64 {
	return d.outlierRatio
}

// SetMaximumIterations caps the Newton iterations per resolution.
func (d *D2D) SetMaximumIterations(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: iteration cap %d must be at least 1", ErrInvalidParameter, n)
	}
	d.maxIter = n
	return nil
}

// SetTransformationEpsilon sets the step-length convergence threshold.
func (d *D2D) SetTransformationEpsilon(eps float64) error {
	if eps <= 0 {
		return fmt.Errorf("%w: transformation epsilon %f must be positive", ErrInvalidParameter, eps)
	}
	d.epsilon = eps
	return nil
}

// SetWorkers sets the score accumulator worker count.
func (d *D2D) SetWorkers(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: worker count %d must be at least 1", ErrInvalidParameter, n)
	}
	d.workers = n
	return nil
}

// HasConverged reports whether the last Align call converged.
func (d *D2D) HasConverged() bool {
	return d.converged
}

// FinalTransformation returns the last estimated 4x4 transform.
func (d *D2D) FinalTransformation() *mat.Dense {
	return mat.DenseCopyOf(d.finalTrans)
}

// TransformationProbability returns the registration alignment probability.
func (d *D2D) TransformationProbability() float64 {
	return d.transProbability
}

// FinalNumIterations returns the iteration count of the last resolution.
func (d *D2D) FinalNumIterations() int {
	return d.iterations
}

// Covariance returns the final score Hessian (see the field note on the
// naming).
func (d *D2D) Covariance() *mat.SymDense {
	return d.covariance
}

// Information returns the inverse of the final score Hessian.
func (d *D2D) Information() *mat.SymDense {
	return d.information
}

// initCellSizes rebuilds the coarse-to-fine sequence from the base size.
func (d *D2D) initCellSizes() {
	d.cellSizes = d.cellSizes[:0]
	for i := d.layerCount - 1; i >= 0; i-- {
		d.cellSizes = append(d.cellSizes, d.baseCellSize*math.Pow(2, float64(i)))
	}
}

// initParams rebuilds the fitting constants, one per resolution.
func (d *D2D) initParams() error {
	d.params = d.params[:0]
	for _, cs := range d.cellSizes {
		p, err := NewFittingParams(d.outlierRatio, cs)
		if err != nil {
			return err
		}
		d.params = append(d.params, p)
	}
	return nil
}

// Align estimates the transform taking the source onto the target starting
// from guess (nil means identity) and returns the transformed source. On an
// overlap failure the returned estimate carries identity covariance and
// information matrices and the error wraps ErrInsufficientOverlap.
func (d *D2D) Align(guess *mat.Dense) (Cloud, Estimate, error) {
	if len(d.source) == 0 || len(d.target) == 0 {
		return nil, NewAlignmentEstimate(nil, nil, nil, 0, 0, false), ErrEmptyCloud
	}
	if guess == nil {
		guess = VecToMat(mat.NewVecDense(3, nil))
	} else if err := checkMatDims(guess, "guess", 4, 4); err != nil {
		return nil, NewAlignmentEstimate(nil, nil, nil, 0, 0, false), fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}

	d.converged = false
	d.iterations = 0
	trans := mat.DenseCopyOf(guess)

	for i, cs := range d.cellSizes {
		srcGrid, err := NewVoxelGrid(cs)
		if err != nil {
			return nil, NewAlignmentEstimate(nil, nil, nil, 0, 0, false), err
		}
		tgtGrid, _ := NewVoxelGrid(cs)
		if err := srcGrid.SetInputCloud(d.source); err != nil {
			return nil, NewAlignmentEstimate(nil, nil, nil, 0, 0, false), err
		}
		if err := tgtGrid.SetInputCloud(d.target); err != nil {
			return nil, NewAlignmentEstimate(nil, nil, nil, 0, 0, false), err
		}
		if err := srcGrid.Filter(true); err != nil {
			return nil, NewAlignmentEstimate(nil, nil, nil, 0, 0, false), err
		}
		if err := tgtGrid.Filter(true); err != nil {
			return nil, NewAlignmentEstimate(nil, nil, nil, 0, 0, false), err
		}

		trans, err = d.computeSingleGrid(srcGrid, tgtGrid, d.params[i], trans)
		if err != nil {
			d.finalTrans = trans
			est := NewAlignmentEstimate(mat.DenseCopyOf(trans), d.covariance, d.information, d.transProbability, d.iterations, false)
			return nil, est, err
		}
	}

	d.finalTrans = trans
	d.converged = true
	output := d.source.Transform(trans)
	est := NewAlignmentEstimate(mat.DenseCopyOf(trans), d.covariance, d.information, d.transProbability, d.iterations, true)
	return output, est, nil
}

// computeSingleGrid runs the Newton iteration at one resolution, starting
// from guess, and returns the refined transform.
func (d *D2D) computeSingleGrid(srcGrid, tgtGrid *VoxelGrid, param FittingParams, guess *mat.Dense) (*mat.Dense, error) {
	d.iterations = 0
	converged := false
	p := MatToVec(guess)
	var score ScoreTriple

	for !converged {
		score = d.calcScore(param, srcGrid, tgtGrid, p, true)

		// Newton direction through a full SVD: regularises indefinite
		// Hessians without branching.
		delta := solveNewton(score.Hessian, score.Gradient)
		norm := mat.Norm(delta, 2)
		if norm == 0 || math.IsNaN(norm) {
			d.transProbability = score.Value / float64(len(d.source))
			d.covariance = Identity(3)
			d.information = Identity(3)
			return VecToMat(p), fmt.Errorf("%w: probability %f", ErrInsufficientOverlap, d.transProbability)
		}
		delta.ScaleVec(1/norm, delta)

		alpha := d.computeStepLengthMT(p, delta, norm, d.stepSize, d.epsilon/2, score, srcGrid, tgtGrid, param)
		p.AddScaledVec(p, alpha, delta)

		d.iterations++
		d.transProbability = score.Value / float64(len(d.source))

		if d.iterations >= d.maxIter || (d.iterations >= 1 && math.Abs(alpha) < d.epsilon) {
			converged = true
		}
	}

	if covar, err := AsSymDense(score.Hessian); err == nil {
		d.covariance = covar
	}
	var inv mat.Dense
	if err := inv.Inverse(score.Hessian); err == nil {
		if info, serr := AsSymDense(&inv); serr == nil {
			d.information = info
		}
	} else {
		d.information = Identity(3)
	}
	return VecToMat(p), nil
}

// solveNewton solves H·δ = −g by full SVD, dropping singular values below a
// relative tolerance. A rank-zero Hessian yields the zero direction.
func solveNewton(H *mat.Dense, g *mat.VecDense) *mat.VecDense {
	delta := mat.NewVecDense(3, nil)
	var svd mat.SVD
	if !svd.Factorize(H, mat.SVDFull) {
		return delta
	}
	s := svd.Values(nil)
	tol := float64(len(s)) * s[0] * 1e-15
	rank := 0
	for _, v := range s {
		if v > tol {
			rank++
		}
	}
	if rank == 0 {
		return delta
	}
	ng := mat.NewVecDense(3, nil)
	ng.ScaleVec(-1, g)
	svd.SolveVecTo(delta, ng, rank)
	return delta
}
