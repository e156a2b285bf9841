package gondt

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestD2DDefaults(t *testing.T) {
	d := NewD2D()
	require.Equal(t, 4, d.NumLayers())
	require.Equal(t, []float64{2, 1, 0.5, 0.25}, d.CellSizes())
	require.Equal(t, 0.1, d.StepSize())
	require.Equal(t, 0.55, d.OutlierRatio())
	require.Equal(t, 35, d.maxIter)
	require.Equal(t, 0.1, d.epsilon)
}

func TestD2DSetterValidation(t *testing.T) {
	d := NewD2D()
	require.ErrorIs(t, d.SetInputSource(nil), ErrEmptyCloud)
	require.ErrorIs(t, d.SetInputTarget(Cloud{}), ErrEmptyCloud)
	require.ErrorIs(t, d.SetNumLayers(0), ErrInvalidParameter)
	require.ErrorIs(t, d.SetCellSize(-1), ErrInvalidParameter)
	require.ErrorIs(t, d.SetCellSizes(nil), ErrInvalidParameter)
	require.ErrorIs(t, d.SetCellSizes([]float64{1, 1}), ErrInvalidParameter)
	require.ErrorIs(t, d.SetStepSize(0), ErrInvalidParameter)
	require.ErrorIs(t, d.SetOutlierRatio(1), ErrInvalidParameter)
	require.ErrorIs(t, d.SetMaximumIterations(0), ErrInvalidParameter)
	require.ErrorIs(t, d.SetTransformationEpsilon(0), ErrInvalidParameter)
	require.ErrorIs(t, d.SetWorkers(0), ErrInvalidParameter)
}

func TestD2DCellSizesStrictlyDecreasing(t *testing.T) {
	d := NewD2D()
	require.NoError(t, d.SetCellSizes([]float64{0.5, 2, 1}))
	sizes := d.CellSizes()
	require.Equal(t, []float64{2, 1, 0.5}, sizes)
	for i := 1; i < len(sizes); i++ {
		require.Less(t, sizes[i], sizes[i-1])
	}
	require.Equal(t, 3, d.NumLayers())

	// The default construction from a base b is {b·2^(L−1), …, 2b, b}.
	require.NoError(t, d.SetCellSize(0.3))
	require.NoError(t, d.SetNumLayers(3))
	require.InDeltaSlice(t, []float64{1.2, 0.6, 0.3}, d.CellSizes(), 1e-12)
}

func TestD2DAlignRequiresClouds(t *testing.T) {
	d := NewD2D()
	_, _, err := d.Align(nil)
	require.ErrorIs(t, err, ErrEmptyCloud)

	require.NoError(t, d.SetInputSource(LatticeCloud(4, 4, 0.5)))
	require.NoError(t, d.SetInputTarget(LatticeCloud(4, 4, 0.5)))
	_, _, err = d.Align(mat.NewDense(3, 3, nil))
	require.ErrorIs(t, err, ErrInvalidParameter)
}

// latticeMatcher is the shared end-to-end fixture: the 20×20 lattice with
// 0.5 spacing of the scenario suite, with the epsilon tightened so the
// ε/2 step floor does not dominate the pose tolerances.
func latticeMatcher(t *testing.T, source, target Cloud) *D2D {
	t.Helper()
	d := NewD2D()
	require.NoError(t, d.SetInputSource(source))
	require.NoError(t, d.SetInputTarget(target))
	require.NoError(t, d.SetTransformationEpsilon(1e-5))
	return d
}

func TestAlignIdentity(t *testing.T) {
	target := LatticeCloud(20, 20, 0.5)
	d := latticeMatcher(t, target, target)

	output, est, err := d.Align(nil)
	require.NoError(t, err)
	require.True(t, est.Converged())
	require.Len(t, output, len(target))

	pose := est.Pose()
	require.Less(t, math.Hypot(pose.AtVec(0), pose.AtVec(1)), 1e-3)
	require.Less(t, math.Abs(pose.AtVec(2)), 1e-4)
}

func TestAlignPureTranslation(t *testing.T) {
	target := LatticeCloud(20, 20, 0.5)
	source := MoveCloud(target, 0, 0.7, -0.3)
	d := latticeMatcher(t, source, target)

	_, est, err := d.Align(nil)
	require.NoError(t, err)
	require.True(t, est.Converged())

	pose := est.Pose()
	require.InDelta(t, -0.7, pose.AtVec(0), 1e-2)
	require.InDelta(t, 0.3, pose.AtVec(1), 1e-2)
	require.InDelta(t, 0, pose.AtVec(2), 1e-2)
}

func TestAlignPureRotation(t *testing.T) {
	// Centre the lattice so the rotation happens about the cloud itself.
	target := MoveCloud(LatticeCloud(20, 20, 0.5), 0, -4.75, -4.75)
	source := MoveCloud(target, 0.35, 0, 0)
	d := latticeMatcher(t, source, target)

	_, est, err := d.Align(VecToMat(NewPose(0, 0, 0.1)))
	require.NoError(t, err)
	require.True(t, est.Converged())
	require.InDelta(t, -0.35, est.Pose().AtVec(2), 5e-3)
}

func TestAlignMotionWithNoise(t *testing.T) {
	target := LatticeCloud(20, 20, 0.5)
	noise, err := NewIsotropicAWGN(0.05, 7)
	require.NoError(t, err)
	source := noise.Perturb(MoveCloud(target, 0.2, 0.5, 0.5))
	d := latticeMatcher(t, source, target)

	_, est, alignErr := d.Align(nil)
	require.NoError(t, alignErr)
	require.True(t, est.Converged())
	require.LessOrEqual(t, est.Iterations(), 35)

	// The recovered transform is the inverse of the applied motion.
	truth := VecToMat(NewPose(0.5, 0.5, 0.2))
	var inv mat.Dense
	require.NoError(t, inv.Inverse(truth))
	want := MatToVec(&inv)
	pose := est.Pose()
	require.InDelta(t, want.AtVec(0), pose.AtVec(0), 0.15)
	require.InDelta(t, want.AtVec(1), pose.AtVec(1), 0.15)
	require.InDelta(t, want.AtVec(2), pose.AtVec(2), 0.05)
}

func TestAlignNoOverlap(t *testing.T) {
	target := LatticeCloud(10, 10, 0.5)
	source := MoveCloud(target, 0, 1000, 1000)
	d := latticeMatcher(t, source, target)

	_, est, err := d.Align(nil)
	require.ErrorIs(t, err, ErrInsufficientOverlap)
	require.False(t, est.Converged())
	require.False(t, d.HasConverged())

	// Covariance and information fall back to identity.
	for i := 0; i < 3; i++ {
		require.Equal(t, 1.0, est.Covariance().At(i, i))
		require.Equal(t, 1.0, est.Information().At(i, i))
	}
}

func TestAlignRerunIdempotent(t *testing.T) {
	target := LatticeCloud(20, 20, 0.5)
	source := MoveCloud(target, 0, 0.4, 0.2)
	d := latticeMatcher(t, source, target)

	_, first, err := d.Align(nil)
	require.NoError(t, err)
	require.True(t, first.Converged())

	_, second, err := d.Align(first.Transformation())
	require.NoError(t, err)
	require.True(t, second.Converged())

	diff := mat.NewVecDense(3, nil)
	diff.SubVec(second.Pose(), first.Pose())
	require.Less(t, mat.Norm(diff, 2), 1e-4*3)
	require.LessOrEqual(t, second.Iterations(), 2)
}

func TestAlignReportsHessianAsCovariance(t *testing.T) {
	target := LatticeCloud(20, 20, 0.5)
	d := latticeMatcher(t, target, target)
	_, est, err := d.Align(nil)
	require.NoError(t, err)

	// The stored information matrix is the inverse of the stored
	// "covariance" (the final score Hessian); their product is identity.
	var prod mat.Dense
	prod.Mul(est.Covariance(), est.Information())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			require.InDelta(t, want, prod.At(i, j), 1e-6)
		}
	}
}

func TestAlignProbabilityPositive(t *testing.T) {
	target := LatticeCloud(20, 20, 0.5)
	d := latticeMatcher(t, target, target)
	_, est, err := d.Align(nil)
	require.NoError(t, err)
	require.Greater(t, est.Probability(), 0.0)
}

func TestSolveNewtonDegenerate(t *testing.T) {
	zero := mat.NewDense(3, 3, nil)
	g := mat.NewVecDense(3, nil)
	delta := solveNewton(zero, g)
	if mat.Norm(delta, 2) != 0 {
		t.Fatal("zero hessian and gradient must yield the zero direction")
	}
}

func TestAlignEstimateErrorKinds(t *testing.T) {
	d := NewD2D()
	require.NoError(t, d.SetInputSource(LatticeCloud(10, 10, 0.5)))
	require.NoError(t, d.SetInputTarget(MoveCloud(LatticeCloud(10, 10, 0.5), 0, 500, 500)))
	_, _, err := d.Align(nil)
	require.True(t, errors.Is(err, ErrInsufficientOverlap))
}
