package gondt

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func TestNoiselessPerturb(t *testing.T) {
	c := LatticeCloud(4, 4, 1)
	out := Noiseless{}.Perturb(c)
	if len(out) != len(c) {
		t.Fatal("point count changed")
	}
	for i := range c {
		if out[i] != c[i] {
			t.Fatal("noiseless perturbation moved a point")
		}
	}
	// The copy is independent of the original.
	out[0].X = 99
	if c[0].X == 99 {
		t.Fatal("perturbed cloud aliases the input")
	}
}

func TestAWGNErrors(t *testing.T) {
	if _, err := NewAWGN(nil, 1); err == nil {
		t.Fatal("nil sigma did not fail")
	}
	if _, err := NewAWGN(mat.NewSymDense(3, nil), 1); err == nil {
		t.Fatal("3x3 sigma did not fail")
	}
	if _, err := NewIsotropicAWGN(0, 1); err == nil {
		t.Fatal("zero sigma did not fail")
	}
}

func TestAWGNStatistics(t *testing.T) {
	noise, err := NewIsotropicAWGN(0.1, 42)
	if err != nil {
		t.Fatal(err)
	}
	c := make(Cloud, 2000)
	out := noise.Perturb(c)

	dx := make([]float64, len(out))
	for i := range out {
		dx[i] = out[i].X
	}
	if mean := stat.Mean(dx, nil); math.Abs(mean) > 0.02 {
		t.Fatalf("noise mean %f too far from zero", mean)
	}
	if dev := stat.StdDev(dx, nil); math.Abs(dev-0.1) > 0.02 {
		t.Fatalf("noise stddev %f too far from 0.1", dev)
	}
	// Z must be untouched.
	for i := range out {
		if out[i].Z != 0 {
			t.Fatal("noise leaked into z")
		}
	}
}
