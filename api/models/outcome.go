package models

import (
	"errors"
	"fmt"
	"io"
)

// Result classifies what happened on one node.
type Result int

const (
	ResultSuccess Result = iota
	ResultNonZeroExit
	ResultUnavailable
	ResultRuntimeError
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultNonZeroExit:
		return "non-zero exit"
	case ResultUnavailable:
		return "connection unavailable"
	case ResultRuntimeError:
		return "runtime error"
	}
	return "unknown"
}

// Outcome is the result of one unit of work on one node.
type Outcome struct {
	Node     NodeID
	Result   Result
	ExitCode int
	// Detail is a short, operation specific description of the node, e.g.
	// the container state for status queries.
	Detail string
	Err    error
}

// Failed reports whether the outcome is anything but a success.
func (o Outcome) Failed() bool { return o.Result != ResultSuccess }

// Classify builds the outcome for node from the error returned by a unit of
// work.
func Classify(node NodeID, detail string, err error) Outcome {
	o := Outcome{Node: node, Detail: detail, Err: err}
	var exit *ExitError
	switch {
	case err == nil:
		o.Result = ResultSuccess
	case errors.As(err, &exit):
		o.Result = ResultNonZeroExit
		o.ExitCode = exit.Code
	case errors.Is(err, ErrAuthenticationRequired), errors.Is(err, ErrConnection), errors.Is(err, ErrNotSelected):
		o.Result = ResultUnavailable
	default:
		o.Result = ResultRuntimeError
	}
	return o
}

// Report aggregates outcomes in topology order: replica-major,
// partition-minor.
type Report struct {
	Operation string
	Outcomes  []Outcome
}

// Failures returns the failed outcomes, in report order.
func (r *Report) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Failed() {
			out = append(out, o)
		}
	}
	return out
}

// Count returns the number of outcomes with the given result.
func (r *Report) Count(result Result) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Result == result {
			n++
		}
	}
	return n
}

// Print writes one line per node grouped by replica:
//
//	Replica 0:
//		Partition 0 (10.0.0.1): running
func (r *Report) Print(w io.Writer) error {
	replica := -1
	for _, o := range r.Outcomes {
		if o.Node.Replica != replica {
			replica = o.Node.Replica
			if _, err := fmt.Fprintf(w, "Replica %d:\n", replica); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "\tPartition %d (%s): %s\n", o.Node.Partition, o.Node.Address, o.describe()); err != nil {
			return err
		}
	}
	return nil
}

func (o Outcome) describe() string {
	if o.Detail != "" {
		return o.Detail
	}
	switch o.Result {
	case ResultNonZeroExit:
		return fmt.Sprintf("%s (%d)", o.Result, o.ExitCode)
	case ResultRuntimeError:
		if o.Err != nil {
			return fmt.Sprintf("%s: %v", o.Result, o.Err)
		}
	}
	return o.Result.String()
}
