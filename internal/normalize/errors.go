// Package normalize turns raw portal exports into readings that are safe to
// publish as monotonically increasing counters.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/meters-to-ha/internal/model"
)

// MaxAge is the widest distance from "now" a published reading may have.
// Anything further is a mis-dated or monthly export.
const MaxAge = 30 * 24 * time.Hour

// IntegrityError reports export content that must never be published.
// It is never retried.
type IntegrityError struct {
	Provider model.Provider
	Reason   string
	Row      string
}

func (e *IntegrityError) Error() string {
	if e.Row == "" {
		return fmt.Sprintf("normalize: %s: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("normalize: %s: %s: %s", e.Provider, e.Reason, e.Row)
}

func integrity(p model.Provider, reason string, row []string) *IntegrityError {
	return &IntegrityError{Provider: p, Reason: reason, Row: strings.Join(row, ";")}
}

// outsideWindow reports whether t is more than MaxAge away from now, in
// either direction.
func outsideWindow(t, now time.Time) bool {
	d := now.Sub(t)
	if d < 0 {
		d = -d
	}
	return d > MaxAge
}
