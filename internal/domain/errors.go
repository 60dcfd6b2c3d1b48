package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores and repositories for unknown identifiers.
var ErrNotFound = errors.New("not found")

// ErrorKind classifies a pipeline failure. Every error surfaced by the core
// carries exactly one kind so callers can map failures to user messaging
// without string matching.
type ErrorKind string

const (
	ErrKindMissingCredential ErrorKind = "missing_credential"
	ErrKindInvalidInput      ErrorKind = "invalid_input"
	ErrKindAnalysisFailed    ErrorKind = "analysis_failed"
	ErrKindBlockedContent    ErrorKind = "blocked_content"
	ErrKindFilteredContent   ErrorKind = "filtered_content"
	ErrKindEmptyResponse     ErrorKind = "empty_response"
	ErrKindTextOnlyResponse  ErrorKind = "text_only_response"
	ErrKindNoImageReturned   ErrorKind = "no_image_returned"
	ErrKindBackendError      ErrorKind = "backend_error"
	ErrKindDecodeError       ErrorKind = "decode_error"
	ErrKindMalformedResponse ErrorKind = "malformed_response"
	ErrKindParseFailure      ErrorKind = "parse_failure"
)

// PipelineError is a kinded error. Status carries the remote HTTP status when
// Kind is ErrKindBackendError.
type PipelineError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Errf builds a PipelineError with a formatted message.
func Errf(kind ErrorKind, format string, args ...any) *PipelineError {
	return &PipelineError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapErr attaches a kind to an underlying error, keeping its message.
func WrapErr(kind ErrorKind, err error) *PipelineError {
	return &PipelineError{Kind: kind, Message: err.Error(), Err: err}
}

// BackendErr builds the status-carrying kind for non-success remote replies.
func BackendErr(status int, body string) *PipelineError {
	return &PipelineError{
		Kind:    ErrKindBackendError,
		Status:  status,
		Message: fmt.Sprintf("backend status %d: %s", status, body),
	}
}

// KindOf extracts the kind from err, or "" if err carries none.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
