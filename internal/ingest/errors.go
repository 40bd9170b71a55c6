package ingest

import "fmt"

// Unit-of-work steps reported in PersistenceError.
const (
	StepBegin   = "begin"
	StepResolve = "resolve"
	StepWrite   = "write"
	StepStitch  = "stitch"
	StepCommit  = "commit"
)

// PersistenceError reports a store failure inside one unit of work. The
// whole unit has been rolled back when it is returned.
type PersistenceError struct {
	Step string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist (%s): %v", e.Step, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ConnectionError reports a failure talking to the bus or the store outside
// a unit of work.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection (%s): %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
