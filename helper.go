package gondt

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Identity returns an identity matrix of the provided size.
func Identity(n int) *mat.SymDense {
	vals := make([]float64, n*n)
	for j := 0; j < n*n; j++ {
		if j%(n+1) == 0 {
			vals[j] = 1
		}
	}
	return mat.NewSymDense(n, vals)
}

// AsSymDense attempts to return a SymDense from the provided Dense, averaging
// the off-diagonal pairs so that round-off asymmetry does not fail the
// conversion.
func AsSymDense(m *mat.Dense) (*mat.SymDense, error) {
	r, c := m.Dims()
	if r != c {
		return nil, errors.New("matrix must be square")
	}
	s := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		s.SetSym(i, i, m.At(i, i))
		for j := i + 1; j < c; j++ {
			s.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return s, nil
}

// checkMatDims checks that the matrix has exactly the provided dimensions.
// Returns an error if not.
func checkMatDims(m mat.Matrix, name string, rows, cols int) error {
	r, c := m.Dims()
	if r != rows || c != cols {
		return fmt.Errorf("dimensions must agree: %s is %dx%d, need %dx%d", name, r, c, rows, cols)
	}
	return nil
}
