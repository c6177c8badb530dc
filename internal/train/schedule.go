package train

import "fmt"

// SchedulePoint sets a value that takes effect at Step.
type SchedulePoint struct {
	Step  int
	Value float64
}

// Schedule is a piecewise-constant step schedule. The value is zero
// before the first point; afterwards the latest point at or below the
// current step wins.
type Schedule struct {
	points []SchedulePoint
}

// Constant builds a schedule that holds v from step zero onward.
func Constant(v float64) Schedule {
	return Schedule{points: []SchedulePoint{{Step: 0, Value: v}}}
}

// NewSchedule parses a flat (step, value, step, value, ...) list.
func NewSchedule(flat []float64) (Schedule, error) {
	if len(flat) == 0 {
		return Schedule{}, nil
	}
	if len(flat)%2 != 0 {
		return Schedule{}, fmt.Errorf("schedule needs (step, value) pairs, got %d entries", len(flat))
	}
	points := make([]SchedulePoint, 0, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		step := int(flat[i])
		if float64(step) != flat[i] || step < 0 {
			return Schedule{}, fmt.Errorf("schedule step must be a non-negative integer, got %g", flat[i])
		}
		if len(points) > 0 && step <= points[len(points)-1].Step {
			return Schedule{}, fmt.Errorf("schedule steps must be strictly increasing, got %d after %d", step, points[len(points)-1].Step)
		}
		points = append(points, SchedulePoint{Step: step, Value: flat[i+1]})
	}
	return Schedule{points: points}, nil
}

func (s Schedule) IsZero() bool {
	return len(s.points) == 0
}

// Points returns a copy of the schedule's control points.
func (s Schedule) Points() []SchedulePoint {
	out := make([]SchedulePoint, len(s.points))
	copy(out, s.points)
	return out
}

func (s Schedule) ValueAt(step int) float64 {
	v := 0.0
	for _, p := range s.points {
		if step < p.Step {
			break
		}
		v = p.Value
	}
	return v
}
