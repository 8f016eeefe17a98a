package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

var (
	ErrInvalidJobKey  = errors.New("invalid job key")
	ErrJobNotFound    = errors.New("job not found")
	ErrJobInFlight    = errors.New("job still in flight")
	ErrMalformedFrame = errors.New("malformed stream frame")
	ErrStreamInit     = errors.New("stream could not be established")
	ErrTimeout        = errors.New("attempt timed out")
	ErrAlreadyDone    = errors.New("operation already done")
)

// Class buckets a remote failure by how the pipeline reacts to it.
type Class int

const (
	// ClassUnknown covers failures that carry no transport or status signal,
	// e.g. a response body that could not be decoded. They are not retried.
	ClassUnknown Class = iota
	// ClassClient is a 4xx-equivalent rejection; surfaced immediately.
	ClassClient
	// ClassServer is a 5xx-equivalent or explicitly retryable status.
	ClassServer
	// ClassTransport is a timeout or a failure where no response arrived.
	ClassTransport
	// ClassAlreadyDone signals the server already applied this logical action.
	ClassAlreadyDone
)

func (c Class) String() string {
	switch c {
	case ClassClient:
		return "client"
	case ClassServer:
		return "server"
	case ClassTransport:
		return "transport"
	case ClassAlreadyDone:
		return "already_done"
	default:
		return "unknown"
	}
}

// Retryable reports whether failures of class c may be attempted again.
func (c Class) Retryable() bool {
	return c == ClassServer || c == ClassTransport
}

// retryableStatus lists 4xx codes that are still worth another attempt.
var retryableStatus = map[int]struct{}{
	http.StatusRequestTimeout:     {},
	http.StatusTooManyRequests:    {},
	http.StatusBadGateway:         {},
	http.StatusServiceUnavailable: {},
	http.StatusGatewayTimeout:     {},
}

// ClassifyStatus maps an HTTP status code onto a Class.
func ClassifyStatus(code int) Class {
	if _, ok := retryableStatus[code]; ok {
		return ClassServer
	}
	switch {
	case code >= 500:
		return ClassServer
	case code >= 400:
		return ClassClient
	default:
		return ClassUnknown
	}
}

type statusCoder interface {
	StatusCode() int
}

type detailer interface {
	Detail() string
}

// Classify inspects err and reports its Class. Already-classified OpErrors
// keep their class.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Class
	}
	if errors.Is(err, ErrAlreadyDone) {
		return ClassAlreadyDone
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		if code >= 400 && code < 500 && mentionsAlready(err) {
			return ClassAlreadyDone
		}
		return ClassifyStatus(code)
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTransport
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return ClassTransport
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransport
	}
	return ClassUnknown
}

func mentionsAlready(err error) bool {
	var d detailer
	if errors.As(err, &d) {
		return strings.Contains(strings.ToLower(d.Detail()), "already")
	}
	return false
}

// StatusOf extracts the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var opErr *OpError
	if errors.As(err, &opErr) && opErr.Status > 0 {
		return opErr.Status
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}

// OpError is the terminal failure of a resilient operation.
type OpError struct {
	Class     Class
	Status    int
	Message   string
	Attempts  int
	Exhausted bool
	Err       error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Class.String())
	b.WriteString(" error")
	if e.Status > 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Exhausted {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// HumanMessage returns the text shown to a person for err.
func HumanMessage(err error) string {
	if err == nil {
		return ""
	}
	var d detailer
	if errors.As(err, &d) {
		if msg := strings.TrimSpace(d.Detail()); msg != "" {
			return msg
		}
	}
	var opErr *OpError
	if errors.As(err, &opErr) && opErr.Message != "" {
		return opErr.Message
	}
	return err.Error()
}
