package agent

import (
	"errors"
	"fmt"

	"goalflow/internal/engine"
	"goalflow/internal/schema"
)

type ErrorKind string

const (
	KindRequestRejected        ErrorKind = "RequestRejected"
	KindModelUnavailable       ErrorKind = "ModelUnavailable"
	KindMalformedModelResponse ErrorKind = "MalformedModelResponse"
	KindUnknownTool            ErrorKind = "UnknownTool"
	KindNotFound               ErrorKind = "NotFound"
	KindValidationFailed       ErrorKind = "ValidationFailed"
	KindInvariantViolated      ErrorKind = "InvariantViolated"
	KindNoOperations           ErrorKind = "NoOperations"
)

// Error is the internal failure detail of a run. It wraps the underlying
// cause so callers can still use errors.As on engine and schema errors.
type Error struct {
	Kind    ErrorKind
	Attempt int
	Tool    string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Tool != "" {
		msg += " in " + e.Tool
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

var ErrNoOperations = errors.New("model proposed no tool calls")

// classify maps an operation error to its kind. The engine reports its
// failures as typed errors; an untyped one means the operation could not
// run at all and is treated like a broken invariant.
func classify(err error) ErrorKind {
	var (
		unknown  *engine.UnknownToolError
		notFound *engine.NotFoundError
		invalid  *schema.ValidationError
	)
	switch {
	case errors.As(err, &unknown):
		return KindUnknownTool
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &invalid):
		return KindValidationFailed
	default:
		// *engine.InvariantError and untyped faults.
		return KindInvariantViolated
	}
}

func issuesOf(err error) []schema.Issue {
	var invalid *schema.ValidationError
	if errors.As(err, &invalid) {
		return invalid.Issues
	}
	return nil
}

// userMessage is what a caller may show to an end user; it never includes
// model output or internal error text.
func userMessage(kind ErrorKind, attempts int, err error) string {
	var rejected *RejectedError
	switch kind {
	case KindRequestRejected:
		if errors.As(err, &rejected) {
			return "Your request was not accepted: " + rejected.Reason + "."
		}
		return "Your request was not accepted."
	case KindNoOperations:
		return "No changes were proposed for this request. Try describing the change more specifically."
	case KindModelUnavailable:
		return fmt.Sprintf("The assistant is unavailable right now (%d attempts). Please try again later.", attempts)
	case KindMalformedModelResponse:
		return fmt.Sprintf("The assistant returned an unreadable answer after %d attempts. Please try again.", attempts)
	case KindNotFound:
		return fmt.Sprintf("The change refers to something that does not exist in the document (%d attempts).", attempts)
	case KindUnknownTool:
		return fmt.Sprintf("The assistant proposed an unsupported operation (%d attempts).", attempts)
	case KindInvariantViolated:
		return fmt.Sprintf("The change would break the document structure (%d attempts).", attempts)
	default:
		return fmt.Sprintf("The proposed change did not pass validation after %d attempts.", attempts)
	}
}
