package secidx

import "github.com/pkg/errors"

// ErrorKind classifies a planning failure: a failure in any parallel task
// fails the whole Apply call, and no partial result is ever returned.
type ErrorKind int

const (
	// ErrorKindNone is the zero value: no error occurred.
	ErrorKindNone ErrorKind = iota
	// ErrorKindMetricsUnavailable means the metrics store failed while
	// answering numRowsInTable or cardinality.
	ErrorKindMetricsUnavailable
	// ErrorKindScanFailure means a scan task against the index table
	// failed; its siblings were cancelled.
	ErrorKindScanFailure
	// ErrorKindSerializerFailure means the row serializer failed to turn a
	// constraint's domain into byte ranges.
	ErrorKindSerializerFailure
	// ErrorKindInterrupted means the caller's context was cancelled
	// mid-call; outstanding tasks were cancelled and their scanners
	// closed.
	ErrorKindInterrupted
	// ErrorKindInvalidConfig means a programmer error in configuration:
	// rangesPerBin <= 0, numShards <= 1, or a threshold outside [0,1].
	ErrorKindInvalidConfig
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindMetricsUnavailable:
		return "MetricsUnavailable"
	case ErrorKindScanFailure:
		return "ScanFailure"
	case ErrorKindSerializerFailure:
		return "SerializerFailure"
	case ErrorKindInterrupted:
		return "Interrupted"
	case ErrorKindInvalidConfig:
		return "InvalidConfig"
	default:
		return "None"
	}
}

// PlanError is the error type returned by IndexPlanner.Apply and its
// collaborators. It carries an ErrorKind so callers can distinguish a
// retryable MetricsUnavailable/ScanFailure from a programmer error without
// string-matching.
type PlanError struct {
	Kind  ErrorKind
	cause error
}

func (e *PlanError) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.cause.Error()
}

func (e *PlanError) Unwrap() error { return e.cause }

// newPlanError wraps cause (which may be nil) with the stack-carrying
// errors.Wrap so the original failure site is still visible in logs.
func newPlanError(kind ErrorKind, cause error, msg string) *PlanError {
	if cause != nil {
		cause = errors.Wrap(cause, msg)
	} else {
		cause = errors.New(msg)
	}
	return &PlanError{Kind: kind, cause: cause}
}

// IsKind reports whether err is a *PlanError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	pe, ok := err.(*PlanError)
	return ok && pe.Kind == kind
}

var (
	// ErrRangesPerBinNonPositive is the InvalidConfig cause when
	// RangeBinner.Bin is called with rangesPerBin <= 0.
	ErrRangesPerBinNonPositive = errors.New("secidx: rangesPerBin must be greater than zero")
	// ErrThresholdOutOfRange is the InvalidConfig cause when a
	// configured [0,1] threshold falls outside that range.
	ErrThresholdOutOfRange = errors.New("secidx: threshold must be within [0,1]")
	// ErrNumShardsTooSmall is the InvalidConfig cause when NumIndexShards
	// is set to a count that cannot be sharded.
	ErrNumShardsTooSmall = errors.New("secidx: numIndexShards must be greater than one")
)
