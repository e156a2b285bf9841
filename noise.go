package gondt

import (
	"fmt"

	"github.com/golang/geo/r3"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// CloudNoise perturbs point clouds, for Monte-Carlo studies and scenario
// generation.
type CloudNoise interface {
	Perturb(Cloud) Cloud // Returns a perturbed copy of the cloud
	String() string      // Stringer interface implementation
}

// Noiseless is noiseless and implements the CloudNoise interface.
type Noiseless struct{}

// Perturb returns the cloud unchanged.
func (n Noiseless) Perturb(c Cloud) Cloud {
	return append(Cloud(nil), c...)
}

// String implements the Stringer interface.
func (n Noiseless) String() string {
	return "Noiseless{}"
}

// AWGN implements the CloudNoise interface and adds white Gaussian noise to
// the planar coordinates of every point.
type AWGN struct {
	Sigma *mat.SymDense
	dist  *distmv.Normal
}

// NewAWGN creates new AWGN noise from the provided 2x2 position covariance
// and seed.
func NewAWGN(sigma *mat.SymDense, seed uint64) (*AWGN, error) {
	if sigma == nil {
		return nil, fmt.Errorf("%w: sigma must be specified", ErrInvalidParameter)
	}
	if r, _ := sigma.Dims(); r != 2 {
		return nil, fmt.Errorf("%w: sigma must be 2x2", ErrInvalidParameter)
	}
	dist, ok := distmv.NewNormal(make([]float64, 2), sigma, rand.New(rand.NewSource(seed)))
	if !ok {
		return nil, fmt.Errorf("%w: sigma is not positive-definite", ErrInvalidParameter)
	}
	return &AWGN{Sigma: sigma, dist: dist}, nil
}

// NewIsotropicAWGN creates new AWGN noise with standard deviation sigma on
// both axes.
func NewIsotropicAWGN(sigma float64, seed uint64) (*AWGN, error) {
	if sigma <= 0 {
		return nil, fmt.Errorf("%w: sigma %f must be positive", ErrInvalidParameter, sigma)
	}
	return NewAWGN(mat.NewSymDense(2, []float64{sigma * sigma, 0, 0, sigma * sigma}), seed)
}

// Perturb implements the CloudNoise interface.
func (n *AWGN) Perturb(c Cloud) Cloud {
	out := make(Cloud, len(c))
	for i, p := range c {
		s := n.dist.Rand(nil)
		out[i] = r3.Vector{X: p.X + s[0], Y: p.Y + s[1], Z: p.Z}
	}
	return out
}

// String implements the Stringer interface.
func (n *AWGN) String() string {
	return fmt.Sprintf("AWGN{\nSigma=%v}\n", mat.Formatted(n.Sigma, mat.Prefix("  ")))
}
