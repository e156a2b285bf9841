package gondt

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ICP is a point-to-point iterative closest point matcher in the plane: each
// iteration pairs every transformed source point with its nearest target
// point and applies the closed-form rigid update from the cross covariance.
// It is the optional refinement stage of the robust wrapper. Use NewICP to
// initialize.
type ICP struct {
	source, target Cloud

	maxIter     int
	epsilon     float64
	maxCorrDist float64

	converged  bool
	finalTrans *mat.Dense
	iterations int
}

// NewICP returns a matcher with a 30 iteration cap, 1e-6 convergence
// threshold and a 1 m correspondence gate.
func NewICP() *ICP {
	return &ICP{
		maxIter:     30,
		epsilon:     1e-6,
		maxCorrDist: 1.0,
		finalTrans:  VecToMat(mat.NewVecDense(3, nil)),
	}
}

// SetInputSource registers the moving cloud.
func (ip *ICP) SetInputSource(cloud Cloud) error {
	if len(cloud) == 0 {
		return ErrEmptyCloud
	}
	ip.source = cloud
	return nil
}

// SetInputTarget registers the fixed cloud.
func (ip *ICP) SetInputTarget(cloud Cloud) error {
	if len(cloud) == 0 {
		return ErrEmptyCloud
	}
	ip.target = cloud
	return nil
}

// SetMaximumIterations caps the update iterations.
func (ip *ICP) SetMaximumIterations(n int) error {
	if n < 1 {
		return ErrInvalidParameter
	}
	ip.maxIter = n
	return nil
}

// SetMaxCorrespondenceDistance gates correspondences beyond d meters.
func (ip *ICP) SetMaxCorrespondenceDistance(d float64) error {
	if d <= 0 {
		return ErrInvalidParameter
	}
	ip.maxCorrDist = d
	return nil
}

// HasConverged reports whether the last Align converged.
func (ip *ICP) HasConverged() bool {
	return ip.converged
}

// FinalTransformation returns the last estimated transform.
func (ip *ICP) FinalTransformation() *mat.Dense {
	return mat.DenseCopyOf(ip.finalTrans)
}

// Align refines guess until the incremental update is below the threshold or
// the iteration cap is reached; both outcomes report convergence. It fails
// only when fewer than three correspondences fall inside the gate.
func (ip *ICP) Align(guess *mat.Dense) (Cloud, Estimate, error) {
	if len(ip.source) == 0 || len(ip.target) == 0 {
		return nil, NewAlignmentEstimate(nil, nil, nil, 0, 0, false), ErrEmptyCloud
	}
	if guess == nil {
		guess = VecToMat(mat.NewVecDense(3, nil))
	} else if err := checkMatDims(guess, "guess", 4, 4); err != nil {
		return nil, NewAlignmentEstimate(nil, nil, nil, 0, 0, false), fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}

	ip.converged = false
	trans := mat.DenseCopyOf(guess)
	gate := ip.maxCorrDist * ip.maxCorrDist

	for ip.iterations = 0; ip.iterations < ip.maxIter; ip.iterations++ {
		moved := ip.source.Transform(trans)

		// Gather gated correspondences.
		var mx, my, tx, ty float64
		type pair struct{ sx, sy, tx, ty float64 }
		pairs := make([]pair, 0, len(moved))
		for _, p := range moved {
			bestD := gate
			var bx, by float64
			found := false
			for _, q := range ip.target {
				d := (q.X-p.X)*(q.X-p.X) + (q.Y-p.Y)*(q.Y-p.Y)
				if d < bestD {
					bestD = d
					bx, by = q.X, q.Y
					found = true
				}
			}
			if found {
				pairs = append(pairs, pair{p.X, p.Y, bx, by})
			}
		}
		if len(pairs) < 3 {
			ip.finalTrans = trans
			return nil, NewAlignmentEstimate(mat.DenseCopyOf(trans), nil, nil, 0, ip.iterations, false), fmt.Errorf("%w: %d correspondences", ErrInsufficientOverlap, len(pairs))
		}
		n := float64(len(pairs))
		for _, pr := range pairs {
			mx += pr.sx
			my += pr.sy
			tx += pr.tx
			ty += pr.ty
		}
		mx /= n
		my /= n
		tx /= n
		ty /= n

		// Cross covariance and its SVD give the incremental rotation.
		w := mat.NewDense(2, 2, nil)
		for _, pr := range pairs {
			w.Set(0, 0, w.At(0, 0)+(pr.tx-tx)*(pr.sx-mx))
			w.Set(0, 1, w.At(0, 1)+(pr.tx-tx)*(pr.sy-my))
			w.Set(1, 0, w.At(1, 0)+(pr.ty-ty)*(pr.sx-mx))
			w.Set(1, 1, w.At(1, 1)+(pr.ty-ty)*(pr.sy-my))
		}
		var svd mat.SVD
		if !svd.Factorize(w, mat.SVDFull) {
			break
		}
		var u, v mat.Dense
		svd.UTo(&u)
		svd.VTo(&v)
		var uv mat.Dense
		uv.Mul(&u, v.T())
		det := mat.Det(&uv)
		d := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
		if det < 0 {
			d.Set(1, 1, -1)
		}
		var ud, r mat.Dense
		ud.Mul(&u, d)
		r.Mul(&ud, v.T())

		dtx := tx - (r.At(0, 0)*mx + r.At(0, 1)*my)
		dty := ty - (r.At(1, 0)*mx + r.At(1, 1)*my)
		dTheta := math.Atan2(r.At(1, 0), r.At(0, 0))

		inc := VecToMat(NewPose(dtx, dty, dTheta))
		var next mat.Dense
		next.Mul(inc, trans)
		trans = mat.DenseCopyOf(&next)

		if math.Abs(dtx)+math.Abs(dty)+math.Abs(dTheta) < ip.epsilon {
			ip.converged = true
			break
		}
	}

	ip.finalTrans = trans
	ip.converged = true
	est := NewAlignmentEstimate(mat.DenseCopyOf(trans), nil, nil, 0, ip.iterations, true)
	return ip.source.Transform(trans), est, nil
}
