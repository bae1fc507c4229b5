package api

import (
	"errors"
	"fmt"
	"strings"

	"moneymind/internal/log"
)

// Failure classes. Every error returned by Client wraps exactly one of them.
var (
	ErrConfig   = errors.New("invalid endpoint")
	ErrEncode   = errors.New("request encoding failed")
	ErrNetwork  = errors.New("network error")
	ErrDecode   = errors.New("failed to decode response")
	ErrRejected = errors.New("rejected by server")
	ErrNotFound = errors.New("not found")
)

// StatusError is a non-2xx response on an operation that requires 2xx.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("network error: server returned status %d", e.Code)
}

func (e *StatusError) Is(target error) bool { return target == ErrNetwork }

// RejectedError is a well-formed response carrying success:false.
type RejectedError struct {
	Op      string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return e.Op + ": rejected by server"
	}
	return e.Op + ": " + e.Message
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// NotFoundError is a fetch whose envelope parsed but carried no payload.
type NotFoundError struct {
	Resource string
	Message  string
}

func (e *NotFoundError) Error() string { return e.Message }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// wrap tags err with its failure class. Both stay in the chain, so callers
// can still match causes such as context.Canceled.
func wrap(class error, err error) error {
	return fmt.Errorf("%w: %w", class, err)
}

// Message converts a client error into the text shown to the user.
func Message(err error) string {
	var (
		rejected *RejectedError
		notFound *NotFoundError
		status   *StatusError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rejected):
		return rejected.Message
	case errors.As(err, &notFound):
		return notFound.Message
	case errors.Is(err, ErrConfig):
		return "Invalid URL"
	case errors.Is(err, ErrEncode):
		return "Failed to encode request data"
	case errors.As(err, &status):
		return fmt.Sprintf("Network error: server returned status %d", status.Code)
	case errors.Is(err, ErrNetwork):
		return "Network error: " + detail(err, ErrNetwork)
	case errors.Is(err, ErrDecode):
		return "Failed to decode response: " + detail(err, ErrDecode)
	default:
		return err.Error()
	}
}

// ErrorType maps a client error to the log error_type field.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, ErrConfig):
		return log.ErrorTypeConfiguration
	case errors.Is(err, ErrEncode):
		return log.ErrorTypeEncoding
	case errors.Is(err, ErrNetwork):
		return log.ErrorTypeNetwork
	case errors.Is(err, ErrDecode):
		return log.ErrorTypeDecode
	case errors.Is(err, ErrNotFound):
		return log.ErrorTypeNotFound
	case errors.Is(err, ErrRejected):
		return log.ErrorTypeApplication
	default:
		return log.ErrorTypeInternal
	}
}

func detail(err, class error) string {
	msg := err.Error()
	if i := strings.Index(msg, class.Error()+": "); i >= 0 {
		return msg[i+len(class.Error())+2:]
	}
	return msg
}
