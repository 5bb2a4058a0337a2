package handler

// Limits bound how many inference requests may be in flight at once. GPU
// memory is the real constraint; these defaults are conservative for a
// single-GPU worker.
type Limits struct {
	Min     int
	Optimal int
	Max     int
}

// Level returns the concurrency level to run at: the optimal level clamped
// into [Min, Max]. Zero or negative fields fall back to 1/3/5.
func (l Limits) Level() int {
	min, optimal, max := l.Min, l.Optimal, l.Max
	if min <= 0 {
		min = 1
	}
	if optimal <= 0 {
		optimal = 3
	}
	if max <= 0 {
		max = 5
	}
	level := optimal
	if level > max {
		level = max
	}
	if level < min {
		level = min
	}
	return level
}
