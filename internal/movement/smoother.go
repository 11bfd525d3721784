// Package movement turns a stream of face positions into discrete
// head-turn events.
package movement

// HistorySize is the number of recent positions averaged by a Smoother.
const HistorySize = 5

// Point is an image-space position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Smoother keeps a short FIFO of positions and reports their mean.
type Smoother struct {
	history []Point
	size    int
}

// NewSmoother creates a Smoother holding at most size points.
// Sizes below 1 fall back to HistorySize.
func NewSmoother(size int) *Smoother {
	if size < 1 {
		size = HistorySize
	}
	return &Smoother{
		history: make([]Point, 0, size),
		size:    size,
	}
}

// Observe appends p, evicting the oldest point on overflow, and returns
// the arithmetic mean of the points now held.
func (s *Smoother) Observe(p Point) Point {
	if len(s.history) >= s.size {
		copy(s.history, s.history[1:])
		s.history = s.history[:s.size-1]
	}
	s.history = append(s.history, p)

	var sum Point
	for _, h := range s.history {
		sum.X += h.X
		sum.Y += h.Y
	}
	n := float64(len(s.history))
	return Point{X: sum.X / n, Y: sum.Y / n}
}

// Len returns the number of points currently held.
func (s *Smoother) Len() int {
	return len(s.history)
}

// Reset drops the history.
func (s *Smoother) Reset() {
	s.history = s.history[:0]
}
