package gondt

import (
	"math"

	"github.com/golang/geo/r3"
)

// Ground-truth cloud generators used by the tests.

// LatticeCloud returns nx×ny points on a regular planar lattice with the
// provided spacing, anchored at the origin.
func LatticeCloud(nx, ny int, spacing float64) Cloud {
	c := make(Cloud, 0, nx*ny)
	for i := 0; i < nx; i++ {
		for j := 0; j < ny; j++ {
			c = append(c, r3.Vector{X: float64(i) * spacing, Y: float64(j) * spacing})
		}
	}
	return c
}

// ScanCloud returns a structured lidar-like scan: two perpendicular walls
// with a doorway gap and a pair of round pillars, sampled every few
// centimeters. The asymmetry pins down the rotation, unlike a bare lattice.
func ScanCloud() Cloud {
	var c Cloud
	// Wall along x at y = 6, with a doorway between x = 2 and x = 3.
	for x := -4.0; x <= 8.0; x += 0.08 {
		if x > 2 && x < 3 {
			continue
		}
		c = append(c, r3.Vector{X: x, Y: 6})
	}
	// Wall along y at x = -4.
	for y := -2.0; y <= 6.0; y += 0.08 {
		c = append(c, r3.Vector{X: -4, Y: y})
	}
	// Two pillars of different radius.
	for a := 0.0; a < 2*math.Pi; a += 0.15 {
		c = append(c, r3.Vector{X: 1 + 0.3*math.Cos(a), Y: 1 + 0.3*math.Sin(a)})
		c = append(c, r3.Vector{X: 5 + 0.5*math.Cos(a), Y: 2 + 0.5*math.Sin(a)})
	}
	return c
}

// MoveCloud returns the cloud rotated by theta about the origin and then
// translated by (tx, ty).
func MoveCloud(c Cloud, theta, tx, ty float64) Cloud {
	return c.Transform(VecToMat(NewPose(tx, ty, theta)))
}
