package gondt

import (
	"math"

	"github.com/golang/geo/r3"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// ScoreTriple carries the objective value with its first and second
// derivatives so they can be returned together from the accumulator.
// Addition is element-wise, commutative and associative; the zero value of
// NewScoreTriple is the identity.
type ScoreTriple struct {
	Value    float64
	Gradient *mat.VecDense
	Hessian  *mat.Dense
}

// NewScoreTriple returns a zeroed triple.
func NewScoreTriple() ScoreTriple {
	return ScoreTriple{
		Gradient: mat.NewVecDense(3, nil),
		Hessian:  mat.NewDense(3, 3, nil),
	}
}

// Add accumulates o into s element-wise.
func (s *ScoreTriple) Add(o ScoreTriple) {
	s.Value += o.Value
	s.Gradient.AddVec(s.Gradient, o.Gradient)
	s.Hessian.Add(s.Hessian, o.Hessian)
}

// pairScore computes the contribution of one (source cell, target cell) pair
// and adds it to acc. Singular covariance sums and NaN distances contribute
// nothing.
func pairScore(acc *ScoreTriple, meanSrc *mat.VecDense, covSrc *mat.Dense, target *Leaf, kit derivKit, param FittingParams, calcHessian bool) {
	diff := mat.NewVecDense(3, nil)
	diff.SubVec(meanSrc, target.Mean())

	var covSum mat.Dense
	covSum.Add(covSrc, target.Cov())
	det := mat.Det(&covSum)
	if math.IsNaN(det) || math.Abs(det) < 1e-15 {
		return
	}
	var icov mat.Dense
	if err := icov.Inverse(&covSum); err != nil {
		if _, nearSingular := err.(mat.Condition); !nearSingular {
			return
		}
	}

	// xᵀB appears in every term; with the covariance sum symmetric its
	// transpose is just B·x.
	xtB := mat.NewVecDense(3, nil)
	xtB.MulVec(&icov, diff)
	dist := mat.Dot(diff, xtB)
	if math.IsNaN(dist) {
		return
	}
	value := -param.d1 * math.Exp(-param.d2half*dist)

	xtBJ := mat.NewVecDense(3, nil)
	xtBJ.MulVec(kit.Jest.T(), xtB)

	zTheta := kit.Zest.Slice(0, 3, 6, 9)
	ztx := mat.NewVecDense(3, nil)
	ztx.MulVec(zTheta.T(), xtB)
	tmp1 := mat.NewVecDense(3, nil)
	tmp1.MulVec(&icov, ztx)
	xtBZBx := mat.Dot(tmp1, diff)

	// Q = 2·xᵀBJ − xᵀBZBx, the latter only in the θ slot.
	q := mat.NewVecDense(3, []float64{
		2 * xtBJ.AtVec(0),
		2 * xtBJ.AtVec(1),
		2*xtBJ.AtVec(2) - xtBZBx,
	})

	factor := -param.d2half * value
	acc.Value += value
	acc.Gradient.AddScaledVec(acc.Gradient, factor, q)

	if !calcHessian {
		return
	}

	// xᵀBZBJ, non-zero only in its third column.
	xtBZBJ := mat.NewVecDense(3, nil)
	xtBZBJ.MulVec(kit.Jest.T(), tmp1)

	// The j-indexed scalar rows (2, j) of xᵀBH, xᵀBZBZBx and xᵀBZhBx.
	var xtBH, xtBZBZBx, xtBZhBx [3]float64
	scratch := mat.NewVecDense(3, nil)
	for j := 0; j < 3; j++ {
		hBlock := kit.Hest.Slice(6, 9, j, j+1)
		for i := 0; i < 3; i++ {
			xtBH[j] += xtB.AtVec(i) * hBlock.At(i, 0)
		}
		scratch.MulVec(kit.Zest.Slice(0, 3, 3*j, 3*j+3), xtB)
		xtBZBZBx[j] = mat.Dot(tmp1, scratch)
		scratch.MulVec(kit.ZHest.Slice(6, 9, 3*j, 3*j+3), xtB)
		xtBZhBx[j] = mat.Dot(xtB, scratch)
	}

	var jtB, jtBJ mat.Dense
	jtB.Mul(kit.Jest.T(), &icov)
	jtBJ.Mul(&jtB, kit.Jest)

	var qq mat.Dense
	qq.Outer(1, q, q)

	h := mat.NewDense(3, 3, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			v := 2 * jtBJ.At(r, c)
			if r == 2 {
				v += 2*xtBH[c] - xtBZhBx[c] + xtBZBZBx[c] - 2*xtBZBJ.AtVec(c)
			}
			if c == 2 {
				v += xtBZBZBx[r] - 2*xtBZBJ.AtVec(r)
			}
			v -= param.d2half * qq.At(r, c)
			h.Set(r, c, factor*v)
		}
	}
	acc.Hessian.Add(acc.Hessian, h)
}

// calcScore evaluates the objective with its derivatives at the candidate
// pose: every source cell is transformed, paired with its two nearest target
// cells and the per-pair contributions are reduced. The source cells are
// partitioned across workers, one private accumulator each; the reduction
// order is the cell order, so the result does not depend on the worker count
// beyond floating point grouping.
func (d *D2D) calcScore(param FittingParams, srcGrid, tgtGrid *VoxelGrid, pose *mat.VecDense, calcHessian bool) ScoreTriple {
	cells := srcGrid.Leaves()
	workers := d.workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(cells) && len(cells) > 0 {
		workers = len(cells)
	}

	T := VecToMat(pose)
	accs := make([]ScoreTriple, workers)
	chunk := (len(cells) + workers - 1) / workers

	var grp errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		lo := w * chunk
		hi := lo + chunk
		if hi > len(cells) {
			hi = len(cells)
		}
		if lo >= hi {
			accs[w] = NewScoreTriple()
			continue
		}
		grp.Go(func() error {
			acc := NewScoreTriple()
			for _, cell := range cells[lo:hi] {
				meanSrc, covSrc := transformGaussian(T, cell.Mean(), cell.Cov())
				kit := computeDerivatives(meanSrc, covSrc, calcHessian)
				query := r3.Vector{X: meanSrc.AtVec(0), Y: meanSrc.AtVec(1), Z: meanSrc.AtVec(2)}
				neighbours, _ := tgtGrid.NearestKSearch(query, neighbourCount)
				for _, nb := range neighbours {
					pairScore(&acc, meanSrc, covSrc, nb, kit, param, calcHessian)
				}
			}
			accs[w] = acc
			return nil
		})
	}
	_ = grp.Wait()

	total := NewScoreTriple()
	for _, acc := range accs {
		total.Add(acc)
	}
	return total
}

// neighbourCount is the number of target cells paired with each source cell.
const neighbourCount = 2
