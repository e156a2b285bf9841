package gondt

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Cloud is a planar point cloud embedded in 3-D (z is carried but the
// matchers only ever produce z = 0 transforms).
type Cloud []r3.Vector

// Transform returns a copy of the cloud moved by the 4x4 homogeneous
// transform T.
func (c Cloud) Transform(T *mat.Dense) Cloud {
	out := make(Cloud, len(c))
	for i, p := range c {
		out[i] = r3.Vector{
			X: T.At(0, 0)*p.X + T.At(0, 1)*p.Y + T.At(0, 2)*p.Z + T.At(0, 3),
			Y: T.At(1, 0)*p.X + T.At(1, 1)*p.Y + T.At(1, 2)*p.Z + T.At(1, 3),
			Z: T.At(2, 0)*p.X + T.At(2, 1)*p.Y + T.At(2, 2)*p.Z + T.At(2, 3),
		}
	}
	return out
}

// Bounds returns the axis-aligned bounding box of the cloud.
func (c Cloud) Bounds() (min, max r3.Vector) {
	min = r3.Vector{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	max = r3.Vector{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, p := range c {
		min.X = math.Min(min.X, p.X)
		min.Y = math.Min(min.Y, p.Y)
		min.Z = math.Min(min.Z, p.Z)
		max.X = math.Max(max.X, p.X)
		max.Y = math.Max(max.Y, p.Y)
		max.Z = math.Max(max.Z, p.Z)
	}
	return min, max
}
