package opt

import "context"

// Status is the terminal state reported by an Oracle.
type Status int

const (
	StatusUnknown Status = iota
	StatusOptimal
	StatusInfeasible
	StatusUnbounded
	StatusLimitReached
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	case StatusLimitReached:
		return "limit_reached"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Oracle is the external mixed-integer engine. Submit blocks until the engine
// reaches a terminal status or ctx is done. Values is only meaningful after
// StatusOptimal and holds one entry per model variable, by Var.Index.
type Oracle interface {
	Submit(ctx context.Context, m *Model) error
	Status() Status
	Values() []float64
}
