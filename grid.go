package gondt

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// covMinEigRatio is the smallest eigenvalue kept in a cell covariance,
// relative to its largest eigenvalue. Planar input always produces one zero
// eigenvalue (z), which would make every covariance sum singular without the
// floor.
const covMinEigRatio = 0.01

// Leaf is one voxel cell: the Gaussian fitted to the points that fell inside
// it. Immutable once the grid is filtered.
type Leaf struct {
	mean   *mat.VecDense
	cov    *mat.Dense
	points int
}

// Mean returns the cell centroid.
func (l *Leaf) Mean() *mat.VecDense {
	return l.mean
}

// Cov returns the cell covariance.
func (l *Leaf) Cov() *mat.Dense {
	return l.cov
}

// Points returns the number of points binned into the cell.
func (l *Leaf) Points() int {
	return l.points
}

// VoxelGrid bins a cloud into cubic cells and fits a Gaussian per cell.
// After Filter it is read-only and safe for concurrent NearestKSearch.
type VoxelGrid struct {
	leafSize float64
	cloud    Cloud
	leaves   []*Leaf
}

// NewVoxelGrid returns an empty grid with the provided leaf size.
func NewVoxelGrid(leafSize float64) (*VoxelGrid, error) {
	g := &VoxelGrid{}
	if err := g.SetLeafSize(leafSize, leafSize, leafSize); err != nil {
		return nil, err
	}
	return g, nil
}

// SetLeafSize sets the cell side length. Only cubic cells are supported, so
// the three lengths must agree and be positive.
func (g *VoxelGrid) SetLeafSize(lx, ly, lz float64) error {
	if lx <= 0 || lx != ly || lx != lz {
		return ErrInvalidParameter
	}
	g.leafSize = lx
	return nil
}

// SetInputCloud registers the cloud to be filtered.
func (g *VoxelGrid) SetInputCloud(c Cloud) error {
	if len(c) == 0 {
		return ErrEmptyCloud
	}
	g.cloud = c
	return nil
}

// Filter bins the input cloud and fits the per-cell Gaussians. With
// computeCovariances false only the centroids are produced.
func (g *VoxelGrid) Filter(computeCovariances bool) error {
	if len(g.cloud) == 0 {
		return ErrEmptyCloud
	}
	type key [3]int
	bins := make(map[key][]r3.Vector)
	for _, p := range g.cloud {
		k := key{
			int(math.Floor(p.X / g.leafSize)),
			int(math.Floor(p.Y / g.leafSize)),
			int(math.Floor(p.Z / g.leafSize)),
		}
		bins[k] = append(bins[k], p)
	}

	g.leaves = g.leaves[:0]
	for _, pts := range bins {
		leaf := &Leaf{points: len(pts)}
		var sx, sy, sz float64
		for _, p := range pts {
			sx += p.X
			sy += p.Y
			sz += p.Z
		}
		n := float64(len(pts))
		leaf.mean = mat.NewVecDense(3, []float64{sx / n, sy / n, sz / n})
		if computeCovariances {
			leaf.cov = g.cellCovariance(pts, leaf.mean)
		}
		g.leaves = append(g.leaves, leaf)
	}
	return nil
}

// cellCovariance fits the sample covariance of the cell points and floors its
// eigenvalues so the result is strictly positive-definite.
func (g *VoxelGrid) cellCovariance(pts []r3.Vector, mean *mat.VecDense) *mat.Dense {
	acc := make([]float64, 9)
	if len(pts) > 1 {
		for _, p := range pts {
			d := [3]float64{p.X - mean.AtVec(0), p.Y - mean.AtVec(1), p.Z - mean.AtVec(2)}
			for i := 0; i < 3; i++ {
				for j := 0; j < 3; j++ {
					acc[3*i+j] += d[i] * d[j]
				}
			}
		}
		inv := 1 / float64(len(pts)-1)
		for i := range acc {
			acc[i] *= inv
		}
	}

	sym := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			sym.SetSym(i, j, 0.5*(acc[3*i+j]+acc[3*j+i]))
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		// Fall back to the isotropic floor.
		iso := g.covFloor()
		out := mat.NewDense(3, 3, nil)
		for i := 0; i < 3; i++ {
			out.Set(i, i, iso)
		}
		return out
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	floor := g.covFloor()
	maxEig := vals[len(vals)-1]
	for i := range vals {
		vals[i] = math.Max(vals[i], math.Max(covMinEigRatio*maxEig, floor))
	}

	lam := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		lam.Set(i, i, vals[i])
	}
	var vl, out mat.Dense
	vl.Mul(&vecs, lam)
	out.Mul(&vl, vecs.T())
	return &out
}

// covFloor is the absolute eigenvalue floor: a tenth of the leaf side,
// squared. Single-point cells get an isotropic covariance at this scale.
func (g *VoxelGrid) covFloor() float64 {
	f := g.leafSize / 10
	return f * f
}

// Leaves returns all non-empty cells.
func (g *VoxelGrid) Leaves() []*Leaf {
	return g.leaves
}

// NearestKSearch returns up to k cells whose centroids are closest to p,
// nearest first, along with the squared distances.
func (g *VoxelGrid) NearestKSearch(p r3.Vector, k int) ([]*Leaf, []float64) {
	if k <= 0 {
		return nil, nil
	}
	best := make([]*Leaf, 0, k)
	dists := make([]float64, 0, k)
	for _, leaf := range g.leaves {
		dx := leaf.mean.AtVec(0) - p.X
		dy := leaf.mean.AtVec(1) - p.Y
		dz := leaf.mean.AtVec(2) - p.Z
		d := dx*dx + dy*dy + dz*dz
		if len(best) < k {
			best = append(best, leaf)
			dists = append(dists, d)
		} else if d >= dists[len(dists)-1] {
			continue
		} else {
			best[len(best)-1] = leaf
			dists[len(dists)-1] = d
		}
		for i := len(best) - 1; i > 0 && dists[i] < dists[i-1]; i-- {
			dists[i], dists[i-1] = dists[i-1], dists[i]
			best[i], best[i-1] = best[i-1], best[i]
		}
	}
	return best, dists
}
