package gondt

import (
	"math"
)

// LookUpTable scores how well a cloud lies on a previously registered target:
// every target point is smeared into a Gaussian kernel on a regular grid and
// a query cloud is scored by the mean cell value under its points. Each cell
// holds the kernel of the distance from its centre to the nearest target
// point, so scores are in [0, 1] and a query point lying on a target point
// scores the value of its cell, which is below 1 unless that cell centre
// coincides with a target point.
type LookUpTable struct {
	cellSize float64
	sigma    float64
	minX     float64
	minY     float64
	nx, ny   int
	cells    []float64
}

// NewLookUpTable returns an empty table; call InitGrid before scoring.
func NewLookUpTable() *LookUpTable {
	return &LookUpTable{}
}

// InitGrid builds the table over the target cloud. cellSize is the grid
// resolution and smear the kernel radius in meters (the Gaussian σ is half
// of it).
func (t *LookUpTable) InitGrid(target Cloud, cellSize, smear float64) error {
	if len(target) == 0 {
		return ErrEmptyCloud
	}
	if cellSize <= 0 || smear <= 0 {
		return ErrInvalidParameter
	}
	t.cellSize = cellSize
	t.sigma = smear / 2

	min, max := target.Bounds()
	margin := 3*t.sigma + cellSize
	t.minX = min.X - margin
	t.minY = min.Y - margin
	t.nx = int(math.Ceil((max.X-min.X+2*margin)/cellSize)) + 1
	t.ny = int(math.Ceil((max.Y-min.Y+2*margin)/cellSize)) + 1
	t.cells = make([]float64, t.nx*t.ny)

	reach := int(math.Ceil(3 * t.sigma / cellSize))
	inv := 1 / (2 * t.sigma * t.sigma)
	for _, p := range target {
		cx := int(math.Floor((p.X - t.minX) / cellSize))
		cy := int(math.Floor((p.Y - t.minY) / cellSize))
		for ix := cx - reach; ix <= cx+reach; ix++ {
			if ix < 0 || ix >= t.nx {
				continue
			}
			for iy := cy - reach; iy <= cy+reach; iy++ {
				if iy < 0 || iy >= t.ny {
					continue
				}
				gx := t.minX + (float64(ix)+0.5)*cellSize
				gy := t.minY + (float64(iy)+0.5)*cellSize
				d2 := (gx-p.X)*(gx-p.X) + (gy-p.Y)*(gy-p.Y)
				v := math.Exp(-d2 * inv)
				idx := iy*t.nx + ix
				if v > t.cells[idx] {
					t.cells[idx] = v
				}
			}
		}
	}
	return nil
}

// Value returns the table value under the point (x, y); zero outside the
// grid.
func (t *LookUpTable) Value(x, y float64) float64 {
	ix := int(math.Floor((x - t.minX) / t.cellSize))
	iy := int(math.Floor((y - t.minY) / t.cellSize))
	if ix < 0 || ix >= t.nx || iy < 0 || iy >= t.ny {
		return 0
	}
	return t.cells[iy*t.nx+ix]
}

// Score returns the mean table value under the cloud points.
func (t *LookUpTable) Score(cloud Cloud) float64 {
	if len(cloud) == 0 || len(t.cells) == 0 {
		return 0
	}
	var sum float64
	for _, p := range cloud {
		sum += t.Value(p.X, p.Y)
	}
	return sum / float64(len(cloud))
}
