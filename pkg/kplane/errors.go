package kplane

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidRequest is the parent of every error caused by the request itself
// rather than by a dependency. errors.Is(err, ErrInvalidRequest) is true for
// every more specific client error below.
var ErrInvalidRequest = errors.New("invalid request")

var (
	// ErrInvalidTopic is returned for malformed topic names.
	ErrInvalidTopic error = &requestErr{"invalid topic"}
	// ErrInvalidAssignment is returned for malformed, duplicate, or
	// unknown broker replica assignments.
	ErrInvalidAssignment error = &requestErr{"invalid replica assignment"}
	// ErrOffsetOutOfRange is returned when resetting to an offset outside
	// the partition's live window.
	ErrOffsetOutOfRange error = &requestErr{"offset out of range"}
	// ErrGroupActive is returned when mutating a group that has live
	// consumers.
	ErrGroupActive error = &requestErr{"consumer group is active"}
	// ErrUnknownGroup is returned when mutating a group that has no data
	// under the requested protocol.
	ErrUnknownGroup error = &requestErr{"unknown consumer group"}
	// ErrUnknownTopic is returned when mutating a topic or partition that
	// does not exist.
	ErrUnknownTopic error = &requestErr{"unknown topic or partition"}
	// ErrTopicNotDeleted is returned if a topic still exists after a
	// deletion was accepted and every verification attempt has elapsed.
	// The request was valid; the deletion failed to complete.
	ErrTopicNotDeleted = errors.New("topic not deleted")

	// ErrNoNode is returned by a CoordStore for paths that do not exist.
	ErrNoNode = errors.New("node does not exist")

	errNoTopicAdmin = fmt.Errorf("%w: no topic admin configured", ErrInvalidRequest)
)

type requestErr struct{ msg string }

func (e *requestErr) Error() string { return e.msg }

func (*requestErr) Is(target error) bool { return target == ErrInvalidRequest }

// DependencyError is returned when an external system (cluster metadata,
// the coordination store, a group coordinator) fails or is unreachable.
// These errors are generally retryable.
type DependencyError struct {
	// Op is what was being done, e.g. "list partitions".
	Op string
	// Err is the underlying error.
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("unable to %s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// depErr wraps err as a DependencyError, passing through nil errors, client
// errors, and context errors.
func depErr(op string, err error) error {
	if err == nil ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, context.Canceled) {
		return err
	}
	var de *DependencyError
	if errors.As(err, &de) {
		return err
	}
	return &DependencyError{Op: op, Err: err}
}

// IsDependencyError returns whether err is or wraps a DependencyError.
func IsDependencyError(err error) bool {
	var de *DependencyError
	return errors.As(err, &de)
}
