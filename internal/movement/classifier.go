package movement

import "math"

// DefaultThreshold is the deadband, in image units, on the dominant axis.
const DefaultThreshold = 25.0

// Direction is a coarse head-turn direction.
type Direction string

const (
	None  Direction = ""
	Left  Direction = "left"
	Right Direction = "right"
	Up    Direction = "up"
	Down  Direction = "down"
)

// String returns "none" for None.
func (d Direction) String() string {
	if d == None {
		return "none"
	}
	return string(d)
}

// State is what the classifier remembers between observations.
type State struct {
	LastDirection    Direction `json:"last_direction"`
	CooldownActive   bool      `json:"cooldown_active"`
	PreviousPosition Point     `json:"previous_position"`
}

// Direct computes the raw direction of the move from prev to cur.
// Only the dominant axis is evaluated; the other one is ignored for this
// step. Magnitudes up to threshold yield None.
func Direct(prev, cur Point, threshold float64) Direction {
	dx := cur.X - prev.X
	dy := cur.Y - prev.Y

	if math.Abs(dx) > math.Abs(dy) {
		switch {
		case dx > threshold:
			return Right
		case dx < -threshold:
			return Left
		}
		return None
	}

	switch {
	case dy > threshold:
		return Down
	case dy < -threshold:
		return Up
	}
	return None
}

// Classify runs one step of the gesture state machine. It returns the
// direction that fired (None if nothing fired) and the next state.
//
// A direction fires only when cooldown is inactive and it differs from
// the last fired direction. Firing sets LastDirection and activates
// cooldown; clearing cooldown is the caller's job. PreviousPosition always
// advances to smoothed.
func Classify(smoothed Point, st State, threshold float64) (Direction, State) {
	dir := Direct(st.PreviousPosition, smoothed, threshold)

	fired := None
	if dir != None && !st.CooldownActive && dir != st.LastDirection {
		fired = dir
		st.LastDirection = dir
		st.CooldownActive = true
	}

	st.PreviousPosition = smoothed
	return fired, st
}
