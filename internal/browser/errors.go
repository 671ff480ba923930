package browser

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotReady is returned by page operations outside the Ready state.
var ErrNotReady = errors.New("browser: session not ready")

// EngineAttempt records why one engine failed to start.
type EngineAttempt struct {
	Engine string
	Paths  []string
	Err    error
}

// StartError is returned when no engine could be started.
type StartError struct {
	Attempts []EngineAttempt
	Err      error
}

func (e *StartError) Error() string {
	var b strings.Builder
	b.WriteString("browser: no usable engine")
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "; %s (%s): %v", a.Engine, strings.Join(a.Paths, ", "), a.Err)
	}
	return b.String()
}

func (e *StartError) Unwrap() error { return e.Err }

// Hint is the remediation shown to the operator.
func (e *StartError) Hint() string {
	return "install firefox and geckodriver (or chromium), or set their paths in the configuration; " +
		"over ssh with --debug, enable X11 forwarding"
}

// TimeoutError is returned when an element does not reach the awaited state.
type TimeoutError struct {
	Locator Locator
	Waited  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("browser: page timeout waiting for %s to be %s (timeout=%s)", e.Locator, e.Waited, e.Timeout)
}

// ClickError is returned when a visible element could not be clicked.
type ClickError struct {
	Locator Locator
	Err     error
}

func (e *ClickError) Error() string {
	return fmt.Sprintf("browser: click %s: %v", e.Locator, e.Err)
}

func (e *ClickError) Unwrap() error { return e.Err }
