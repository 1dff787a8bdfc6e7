package opt

import (
	"errors"
	"fmt"
)

// InputError reports a snapshot that cannot be turned into a model. Building
// stops at the first one; no partial model is returned.
type InputError struct {
	Entity string // zone, facility, coordinate, option
	ID     string
	Reason string
}

func (e *InputError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid %s: %s", e.Entity, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Entity, e.ID, e.Reason)
}

func inputErr(entity, id, format string, args ...any) *InputError {
	return &InputError{Entity: entity, ID: id, Reason: fmt.Sprintf(format, args...)}
}

// ErrInfeasible is returned when the oracle proves no assignment satisfies
// the model.
var ErrInfeasible = errors.New("no feasible solution")

// OracleError reports that the oracle could not determine an answer.
type OracleError struct {
	Status Status
	Err    error
}

func (e *OracleError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("oracle terminated with status %s", e.Status)
	}
	return fmt.Sprintf("oracle terminated with status %s: %v", e.Status, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }
