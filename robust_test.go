package gondt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRobustDefaults(t *testing.T) {
	r := NewRobustD2D()
	require.Equal(t, []float64{2, 1, 0.5, 0.25}, r.d2d.CellSizes())
	require.Equal(t, 10, r.d2d.maxIter)
	require.Equal(t, 0.7, r.goodScore)
	require.Equal(t, 0.6, r.salvageScore)
	require.Equal(t, 0.4, r.acceptScore)
	require.False(t, r.useICP)
}

func TestRobustForwardsSetters(t *testing.T) {
	r := NewRobustD2D()
	require.NoError(t, r.SetStepSize(0.2))
	require.Equal(t, 0.2, r.d2d.StepSize())
	require.NoError(t, r.SetOutlierRatio(0.4))
	require.Equal(t, 0.4, r.d2d.OutlierRatio())
	require.NoError(t, r.SetCellSize(0.5))
	require.Equal(t, 0.5, r.CellSize())
	require.NoError(t, r.SetTransformationEpsilon(0.01))
	require.Equal(t, 0.01, r.d2d.epsilon)
	require.NoError(t, r.SetWorkers(3))
	require.Equal(t, 3, r.d2d.workers)
	require.ErrorIs(t, r.SetOutlierRatio(2), ErrInvalidParameter)
}

func TestRobustGoodGuessAcceptsDirectly(t *testing.T) {
	target := ScanCloud()
	source := MoveCloud(target, 0.1, 0.2, -0.1)

	r := NewRobustD2D()
	require.NoError(t, r.SetInputSource(source))
	require.NoError(t, r.SetInputTarget(target))
	require.NoError(t, r.SetTransformationEpsilon(1e-3))

	output, est, err := r.Align(nil)
	require.NoError(t, err)
	require.True(t, est.Converged())
	require.True(t, r.HasConverged())
	require.Len(t, output, len(source))
}

func TestRobustSalvagesLargeRotation(t *testing.T) {
	target := ScanCloud()
	source := MoveCloud(target, 1.2, 0, 0)

	r := NewRobustD2D()
	require.NoError(t, r.SetInputSource(source))
	require.NoError(t, r.SetInputTarget(target))
	require.NoError(t, r.SetTransformationEpsilon(1e-3))

	_, est, err := r.Align(nil)
	require.NoError(t, err)
	require.True(t, est.Converged())
	require.InDelta(t, -1.2, est.Pose().AtVec(2), 0.1)
}

func TestRobustNoAlignmentOnDisjointClouds(t *testing.T) {
	target := ScanCloud()
	source := MoveCloud(target, 0, 500, 500)

	r := NewRobustD2D()
	require.NoError(t, r.SetInputSource(source))
	require.NoError(t, r.SetInputTarget(target))

	_, est, err := r.Align(nil)
	require.ErrorIs(t, err, ErrNoAlignment)
	require.False(t, est.Converged())

	// The final transformation falls back to identity.
	final := r.FinalTransformation()
	pose := MatToVec(final)
	require.Equal(t, 0.0, pose.AtVec(0))
	require.Equal(t, 0.0, pose.AtVec(1))
	require.Equal(t, 0.0, pose.AtVec(2))
}

func TestRobustEmptyCloudErrors(t *testing.T) {
	r := NewRobustD2D()
	require.ErrorIs(t, r.SetInputSource(nil), ErrEmptyCloud)
	_, _, err := r.Align(nil)
	require.ErrorIs(t, err, ErrEmptyCloud)
}

func TestRobustICPStageDisabledByDefault(t *testing.T) {
	target := ScanCloud()
	source := MoveCloud(target, 0.05, 0.1, 0)

	r := NewRobustD2D()
	require.NoError(t, r.SetInputSource(source))
	require.NoError(t, r.SetInputTarget(target))
	require.NoError(t, r.SetTransformationEpsilon(1e-3))

	_, est, err := r.Align(nil)
	require.NoError(t, err)
	require.True(t, est.Converged())

	// Enabling the stage must not break a good alignment.
	r.EnableICPRefinement(true)
	_, est2, err := r.Align(nil)
	require.NoError(t, err)
	require.True(t, est2.Converged())
	require.InDelta(t, est.Pose().AtVec(2), est2.Pose().AtVec(2), 0.05)
}

func TestProofTransformScoresAlignment(t *testing.T) {
	target := ScanCloud()
	r := NewRobustD2D()
	require.NoError(t, r.SetInputSource(target))
	require.NoError(t, r.SetInputTarget(target))

	identity := VecToMat(NewPose(0, 0, 0))
	aligned := r.proofTransform(identity)
	require.Greater(t, aligned, 0.8)

	rotated := VecToMat(NewPose(0, 0, math.Pi/2))
	require.Less(t, r.proofTransform(rotated), aligned)
}
