package gondt

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Correlative is an exhaustive windowed scan matcher: candidate poses around
// the guess are scored against a smeared occupancy table of the target and
// the best one wins. It is slow but immune to the local minima that trap the
// gradient-based matchers, which makes it the recovery seeder of the robust
// wrapper. The default rotation window is the full ±π. Use NewCorrelative to
// initialize.
type Correlative struct {
	source, target Cloud

	cellSize        float64
	smear           float64
	translationSpan float64
	translationStep float64
	rotationSpan    float64
	rotationStep    float64
	minScore        float64
	workers         int

	converged  bool
	finalTrans *mat.Dense
	bestScore  float64
}

// NewCorrelative returns a matcher with a ±2 m, ±π search window, 0.25 m and
// 2° coarse steps and a 0.5 m table resolution.
func NewCorrelative() *Correlative {
	return &Correlative{
		cellSize:        0.5,
		smear:           0.5,
		translationSpan: 2.0,
		translationStep: 0.25,
		rotationSpan:    math.Pi,
		rotationStep:    2 * math.Pi / 180,
		minScore:        0.3,
		workers:         defaultWorkers,
		finalTrans:      VecToMat(mat.NewVecDense(3, nil)),
	}
}

// SetInputSource registers the moving cloud.
func (c *Correlative) SetInputSource(cloud Cloud) error {
	if len(cloud) == 0 {
		return ErrEmptyCloud
	}
	c.source = cloud
	return nil
}

// SetInputTarget registers the fixed cloud.
func (c *Correlative) SetInputTarget(cloud Cloud) error {
	if len(cloud) == 0 {
		return ErrEmptyCloud
	}
	c.target = cloud
	return nil
}

// SetSearchWindow changes the translation and rotation half-spans and steps.
func (c *Correlative) SetSearchWindow(transSpan, transStep, rotSpan, rotStep float64) error {
	if transSpan <= 0 || transStep <= 0 || rotSpan <= 0 || rotStep <= 0 {
		return ErrInvalidParameter
	}
	c.translationSpan = transSpan
	c.translationStep = transStep
	c.rotationSpan = rotSpan
	c.rotationStep = rotStep
	return nil
}

// SetMinScore sets the acceptance threshold for the best candidate.
func (c *Correlative) SetMinScore(s float64) error {
	if s < 0 || s > 1 {
		return ErrInvalidParameter
	}
	c.minScore = s
	return nil
}

// SetWorkers sets the rotation sweep worker count.
func (c *Correlative) SetWorkers(n int) error {
	if n < 1 {
		return ErrInvalidParameter
	}
	c.workers = n
	return nil
}

// HasConverged reports whether the last Align found a candidate above the
// minimum score.
func (c *Correlative) HasConverged() bool {
	return c.converged
}

// FinalTransformation returns the best candidate transform.
func (c *Correlative) FinalTransformation() *mat.Dense {
	return mat.DenseCopyOf(c.finalTrans)
}

// BestScore returns the lookup-table score of the best candidate.
func (c *Correlative) BestScore() float64 {
	return c.bestScore
}

type correlativeCandidate struct {
	score      float64
	x, y, diff float64
}

// Align sweeps the window around guess, refines around the coarse winner and
// reports the best pose.
func (c *Correlative) Align(guess *mat.Dense) (Cloud, Estimate, error) {
	if len(c.source) == 0 || len(c.target) == 0 {
		return nil, NewAlignmentEstimate(nil, nil, nil, 0, 0, false), ErrEmptyCloud
	}
	if guess == nil {
		guess = VecToMat(mat.NewVecDense(3, nil))
	} else if err := checkMatDims(guess, "guess", 4, 4); err != nil {
		return nil, NewAlignmentEstimate(nil, nil, nil, 0, 0, false), fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	c.converged = false

	table := NewLookUpTable()
	if err := table.InitGrid(c.target, c.cellSize, c.smear); err != nil {
		return nil, NewAlignmentEstimate(nil, nil, nil, 0, 0, false), err
	}
	base := MatToVec(guess)

	coarse := c.sweep(table, base,
		c.translationSpan, c.translationStep,
		-c.rotationSpan, c.rotationSpan, c.rotationStep)
	fine := c.sweepAround(table, base, coarse)

	pose := NewPose(base.AtVec(0)+fine.x, base.AtVec(1)+fine.y, base.AtVec(2)+fine.diff)
	c.finalTrans = VecToMat(pose)
	c.bestScore = fine.score
	c.converged = fine.score >= c.minScore

	est := NewAlignmentEstimate(mat.DenseCopyOf(c.finalTrans), nil, nil, c.bestScore, 1, c.converged)
	if !c.converged {
		return nil, est, fmt.Errorf("%w: best correlative score %f", ErrNoAlignment, c.bestScore)
	}
	return c.source.Transform(c.finalTrans), est, nil
}

// sweepAround reruns the sweep on a shrunken window centred on the winner.
func (c *Correlative) sweepAround(table *LookUpTable, base *mat.VecDense, best correlativeCandidate) correlativeCandidate {
	centre := NewPose(base.AtVec(0)+best.x, base.AtVec(1)+best.y, base.AtVec(2)+best.diff)
	fine := c.sweep(table, centre,
		c.translationStep, c.translationStep/5,
		-c.rotationStep, c.rotationStep, c.rotationStep/5)
	return correlativeCandidate{
		score: fine.score,
		x:     best.x + fine.x,
		y:     best.y + fine.y,
		diff:  best.diff + fine.diff,
	}
}

// sweep scores every candidate in the window around base, parallelised over
// the rotation slices, and returns the winner as offsets from base.
func (c *Correlative) sweep(table *LookUpTable, base *mat.VecDense, transSpan, transStep, rotLo, rotHi, rotStep float64) correlativeCandidate {
	var rotations []float64
	for dt := rotLo; dt <= rotHi+rotStep/2; dt += rotStep {
		rotations = append(rotations, dt)
	}

	workers := c.workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(rotations) {
		workers = len(rotations)
	}
	bests := make([]correlativeCandidate, workers)
	chunk := (len(rotations) + workers - 1) / workers

	var grp errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		lo := w * chunk
		hi := lo + chunk
		if hi > len(rotations) {
			hi = len(rotations)
		}
		if lo >= hi {
			bests[w] = correlativeCandidate{score: math.Inf(-1)}
			continue
		}
		grp.Go(func() error {
			best := correlativeCandidate{score: math.Inf(-1)}
			rotated := make([]r3.Vector, len(c.source))
			for _, dt := range rotations[lo:hi] {
				sin, cos := math.Sincos(base.AtVec(2) + dt)
				for i, p := range c.source {
					rotated[i] = r3.Vector{
						X: cos*p.X - sin*p.Y + base.AtVec(0),
						Y: sin*p.X + cos*p.Y + base.AtVec(1),
					}
				}
				for dx := -transSpan; dx <= transSpan+transStep/2; dx += transStep {
					for dy := -transSpan; dy <= transSpan+transStep/2; dy += transStep {
						var sum float64
						for _, q := range rotated {
							sum += table.Value(q.X+dx, q.Y+dy)
						}
						score := sum / float64(len(rotated))
						if score > best.score {
							best = correlativeCandidate{score: score, x: dx, y: dy, diff: dt}
						}
					}
				}
			}
			bests[w] = best
			return nil
		})
	}
	_ = grp.Wait()

	best := correlativeCandidate{score: math.Inf(-1)}
	for _, b := range bests {
		if b.score > best.score {
			best = b
		}
	}
	return best
}
