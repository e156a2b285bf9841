package gondt

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Registration is the capability set shared by every scan matcher in this
// package. Align estimates the rigid transform taking the source cloud onto
// the target cloud, starting from guess (a 4x4 homogeneous matrix; nil means
// identity), and returns the transformed source together with the estimate.
type Registration interface {
	SetInputSource(cloud Cloud) error
	SetInputTarget(cloud Cloud) error
	Align(guess *mat.Dense) (Cloud, Estimate, error)
}

// Estimate is returned from Align() in any matcher. It carries the recovered
// pose with its uncertainty and the bookkeeping of the run that produced it.
type Estimate interface {
	Pose() *mat.VecDense          // Returns (x, y, θ)
	Transformation() *mat.Dense   // Returns the 4x4 homogeneous transform
	Covariance() *mat.SymDense    // Returns the pose covariance (see D2D note)
	Information() *mat.SymDense   // Returns the pose information matrix
	Probability() float64         // Returns the transformation probability
	Iterations() int              // Returns the iteration count of the final resolution
	Converged() bool              // Returns whether the matcher converged
	String() string               // Must implement the stringer interface.
}

// AlignmentEstimate is the concrete Estimate shared by the matchers.
type AlignmentEstimate struct {
	pose        *mat.VecDense
	trans       *mat.Dense
	covar, info *mat.SymDense
	probability float64
	iterations  int
	converged   bool
}

// NewAlignmentEstimate initializes a new AlignmentEstimate from the final
// transformation. A nil covariance or information matrix defaults to identity.
func NewAlignmentEstimate(trans *mat.Dense, covar, info *mat.SymDense, probability float64, iterations int, converged bool) AlignmentEstimate {
	if trans == nil {
		trans = VecToMat(mat.NewVecDense(3, nil))
	}
	if covar == nil {
		covar = Identity(3)
	}
	if info == nil {
		info = Identity(3)
	}
	return AlignmentEstimate{MatToVec(trans), trans, covar, info, probability, iterations, converged}
}

// Pose implements the Estimate interface.
func (e AlignmentEstimate) Pose() *mat.VecDense {
	return e.pose
}

// Transformation implements the Estimate interface.
func (e AlignmentEstimate) Transformation() *mat.Dense {
	return e.trans
}

// Covariance implements the Estimate interface.
func (e AlignmentEstimate) Covariance() *mat.SymDense {
	return e.covar
}

// Information implements the Estimate interface.
func (e AlignmentEstimate) Information() *mat.SymDense {
	return e.info
}

// Probability implements the Estimate interface.
func (e AlignmentEstimate) Probability() float64 {
	return e.probability
}

// Iterations implements the Estimate interface.
func (e AlignmentEstimate) Iterations() int {
	return e.iterations
}

// Converged implements the Estimate interface.
func (e AlignmentEstimate) Converged() bool {
	return e.converged
}

func (e AlignmentEstimate) String() string {
	pose := mat.Formatted(e.pose, mat.Prefix("  "))
	covar := mat.Formatted(e.covar, mat.Prefix("  "))
	return fmt.Sprintf("{\nconverged=%v\np=%v\nP=%v\nprob=%f it=%d\n}", e.converged, pose, covar, e.probability, e.iterations)
}
