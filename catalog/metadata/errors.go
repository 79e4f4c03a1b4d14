package metadata

import (
	"errors"
	"fmt"
)

var (
	ErrStudyConfigurationNotFound = errors.New("study configuration not found")
	ErrLockTimeout                = errors.New("timed out waiting for study lock")
)

// CurrentOperationError rejects an admission because the same operation is
// already running (or finished) and resume was not requested.
type CurrentOperationError struct {
	Operation BatchOperation
}

func (e *CurrentOperationError) Error() string {
	return fmt.Sprintf("operation '%v' on files %v is already in status %v, relaunch with resume to continue",
		e.Operation.Name, e.Operation.FileIds, e.Operation.CurrentStatus())
}

// OtherOperationError rejects an admission because a different operation
// holds the study and the concurrency predicate did not allow overlap.
type OtherOperationError struct {
	Operation BatchOperation
	Requested string
}

func (e *OtherOperationError) Error() string {
	return fmt.Sprintf("cannot run '%v' while operation '%v' on files %v is in status %v",
		e.Requested, e.Operation.Name, e.Operation.FileIds, e.Operation.CurrentStatus())
}

// IsConflict reports whether err is a batch operation admission conflict.
func IsConflict(err error) bool {
	var current *CurrentOperationError
	var other *OtherOperationError
	return errors.As(err, &current) || errors.As(err, &other)
}

// AdmissionError reports an invalid or conflicting file/sample registration
// during load admission.
type AdmissionError struct {
	Message string
}

func (e *AdmissionError) Error() string {
	return e.Message
}

// UnknownReferenceError reports a name or id with no binding in the study
// configuration document.
type UnknownReferenceError struct {
	Resource string
	Ref      string
	Study    string
}

func (e *UnknownReferenceError) Error() string {
	if e.Study == "" {
		return fmt.Sprintf("%v '%v' not found", e.Resource, e.Ref)
	}
	return fmt.Sprintf("%v '%v' not found in study '%v'", e.Resource, e.Ref, e.Study)
}
