package gondt

import "gonum.org/v1/gonum/mat"

// derivKit caches the partial derivatives of a transformed cell Gaussian with
// respect to the pose (x, y, θ): Jest = ∂μ/∂p, Hest = ∂²μ/∂p², Zest = ∂Σ/∂p
// and ZHest the mixed second order terms. Only the θ column carries
// non-trivial entries since translations have vanishing second derivatives.
type derivKit struct {
	Jest  *mat.Dense // 3x3
	Hest  *mat.Dense // 9x3
	Zest  *mat.Dense // 3x9
	ZHest *mat.Dense // 9x9
}

// computeDerivatives evaluates the kit at the already-transformed mean x and
// covariance cov. The Hessian blocks are skipped unless requested.
func computeDerivatives(x *mat.VecDense, cov *mat.Dense, calcHessian bool) derivKit {
	kit := derivKit{
		Jest:  mat.NewDense(3, 3, nil),
		Hest:  mat.NewDense(9, 3, nil),
		Zest:  mat.NewDense(3, 9, nil),
		ZHest: mat.NewDense(9, 9, nil),
	}
	kit.Jest.Set(0, 0, 1)
	kit.Jest.Set(1, 1, 1)
	kit.Jest.Set(0, 2, -x.AtVec(1))
	kit.Jest.Set(1, 2, x.AtVec(0))

	c00 := cov.At(0, 0)
	c01 := cov.At(0, 1)
	c02 := cov.At(0, 2)
	c11 := cov.At(1, 1)
	c12 := cov.At(1, 2)

	kit.Zest.Set(0, 6, -2*c01)
	kit.Zest.Set(0, 7, c00-c11)
	kit.Zest.Set(0, 8, -c12)
	kit.Zest.Set(1, 6, c00-c11)
	kit.Zest.Set(1, 7, 2*c01)
	kit.Zest.Set(1, 8, c02)
	kit.Zest.Set(2, 6, -c12)
	kit.Zest.Set(2, 7, c02)

	if calcHessian {
		kit.Hest.Set(6, 2, -x.AtVec(0))
		kit.Hest.Set(7, 2, -x.AtVec(1))

		kit.ZHest.Set(6, 6, 2*(c11-c00))
		kit.ZHest.Set(6, 7, -4*c01)
		kit.ZHest.Set(6, 8, -c02)
		kit.ZHest.Set(7, 6, -4*c01)
		kit.ZHest.Set(7, 7, 2*(c00-c11))
		kit.ZHest.Set(7, 8, -c12)
		kit.ZHest.Set(8, 6, -c02)
		kit.ZHest.Set(8, 7, -c12)
	}
	return kit
}
