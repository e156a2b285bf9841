package gondt

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// VecToMat expands a planar pose (x, y, θ) into a 4x4 homogeneous matrix:
// a rotation about Z by θ and a translation of (x, y, 0).
func VecToMat(pose *mat.VecDense) *mat.Dense {
	sin, cos := math.Sincos(pose.AtVec(2))
	T := mat.NewDense(4, 4, nil)
	T.Set(0, 0, cos)
	T.Set(0, 1, -sin)
	T.Set(1, 0, sin)
	T.Set(1, 1, cos)
	T.Set(2, 2, 1)
	T.Set(3, 3, 1)
	T.Set(0, 3, pose.AtVec(0))
	T.Set(1, 3, pose.AtVec(1))
	return T
}

// MatToVec collapses a 4x4 homogeneous matrix back to (x, y, θ) with
// θ ∈ (−π, π].
func MatToVec(T *mat.Dense) *mat.VecDense {
	return mat.NewVecDense(3, []float64{
		T.At(0, 3),
		T.At(1, 3),
		math.Atan2(T.At(1, 0), T.At(0, 0)),
	})
}

// NewPose is a convenience constructor for a (x, y, θ) pose vector.
func NewPose(x, y, theta float64) *mat.VecDense {
	return mat.NewVecDense(3, []float64{x, y, theta})
}

// transformGaussian moves a cell Gaussian rigidly: μ' = R·μ + t, Σ' = R·Σ·Rᵀ.
func transformGaussian(T *mat.Dense, mean *mat.VecDense, cov *mat.Dense) (*mat.VecDense, *mat.Dense) {
	R := T.Slice(0, 3, 0, 3)
	meanT := mat.NewVecDense(3, nil)
	meanT.MulVec(R, mean)
	meanT.SetVec(0, meanT.AtVec(0)+T.At(0, 3))
	meanT.SetVec(1, meanT.AtVec(1)+T.At(1, 3))
	meanT.SetVec(2, meanT.AtVec(2)+T.At(2, 3))

	var rc, covT mat.Dense
	rc.Mul(R, cov)
	covT.Mul(&rc, R.T())
	return meanT, &covT
}
