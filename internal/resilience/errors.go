package resilience

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Class tells a retry loop what to do with a failure.
type Class int

const (
	// ClassFailed is an ordinary failure. Backend calls give up; crawls
	// retry it once.
	ClassFailed Class = iota
	// ClassTransient is a network or server hiccup worth another try.
	ClassTransient
	// ClassPermanent cannot be fixed by running the same step again.
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "failed"
	}
}

// TransientError marks a backend answer that may succeed on a second try.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	if e.StatusCode == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (status %d)", e.Err, e.StatusCode)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError marks err as retryable. statusCode is 0 for
// transport-level failures.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// PermanentError marks a failure that retrying cannot fix, such as an
// unwritable download folder.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that crawl retries stop.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

var transientErrnos = []error{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED, syscall.EPIPE}

// Messages of transport errors that lost their type on the way up, e.g.
// through a driver's JSON wire protocol.
var transientMessages = []string{
	"connection reset by peer",
	"i/o timeout",
	"tls handshake timeout",
	"server closed idle connection",
	"temporary failure in name resolution",
}

// Classify inspects the error chain. A permanent mark wins over anything
// else found in the chain.
func Classify(err error) Class {
	if err == nil {
		return ClassFailed
	}

	var pe *PermanentError
	if errors.As(err, &pe) {
		return ClassPermanent
	}

	var te *TransientError
	if errors.As(err, &te) {
		return ClassTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ClassTransient
	}
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return ClassTransient
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return ClassTransient
		}
	}
	return ClassFailed
}

// IsTransient reports whether err is worth retrying against a backend.
func IsTransient(err error) bool { return Classify(err) == ClassTransient }

// IsPermanent reports whether err (or any error in its chain) is permanent.
func IsPermanent(err error) bool { return Classify(err) == ClassPermanent }

// RetryableStatus reports whether an HTTP status means the backend may
// answer differently on the next try.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
