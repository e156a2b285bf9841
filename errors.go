package gondt

import "errors"

// Sentinel errors reported by the registration objects. Configuration-time
// failures (ErrInvalidParameter, ErrEmptyCloud) are returned from setters and
// constructors. ErrInsufficientOverlap surfaces from Align when a Newton step
// degenerates at some resolution; ErrNoAlignment surfaces from the robust
// wrapper when no candidate transform can be salvaged.
var (
	ErrInvalidParameter    = errors.New("gondt: invalid parameter")
	ErrEmptyCloud          = errors.New("gondt: point cloud is empty")
	ErrInsufficientOverlap = errors.New("gondt: not enough overlap between source and target")
	ErrNoAlignment         = errors.New("gondt: no acceptable alignment found")
)
