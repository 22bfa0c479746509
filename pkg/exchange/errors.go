package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorCode classifies why an exchange failed.
type ErrorCode string

// Error codes.
const (
	CodeTransport ErrorCode = "transport"
	CodeCanceled  ErrorCode = "canceled"
	CodeTimeout   ErrorCode = "timeout"
	CodeCapture   ErrorCode = "capture"
)

// Error is the terminal error descriptor of a failed exchange.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Classify builds the descriptor for err. ctx is the request context; when
// it is done, its error decides between canceled and timeout even if the
// transport reported something less specific.
func Classify(ctx context.Context, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: classify(ctx, err), Message: err.Error()}
}

func classify(ctx context.Context, err error) ErrorCode {
	switch {
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return CodeTimeout
	}

	if ctx != nil {
		switch ctx.Err() {
		case context.Canceled:
			return CodeCanceled
		case context.DeadlineExceeded:
			return CodeTimeout
		}
	}
	return CodeTransport
}

// CaptureFault builds the descriptor for a fault inside the capture path
// itself, typically a recovered panic value.
func CaptureFault(v any) *Error {
	return &Error{Code: CodeCapture, Message: fmt.Sprint(v)}
}
