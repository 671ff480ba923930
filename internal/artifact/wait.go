package artifact

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNotDownloaded is returned when a file does not appear before the deadline.
var ErrNotDownloaded = errors.New("artifact: file not downloaded")

// PollInterval is how often WaitForFile checks the download folder.
const PollInterval = time.Second

// WaitForFile blocks until path exists or timeout elapses. The browser gives
// no reliable completion event, so the download folder is polled.
func WaitForFile(ctx context.Context, path string, timeout, interval time.Duration) error {
	if interval <= 0 {
		interval = PollInterval
	}
	deadline := time.Now().Add(timeout)

	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return eris.Wrapf(ErrNotDownloaded, "artifact: %s after %s", path, timeout)
		}

		select {
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "artifact: wait cancelled")
		case <-time.After(interval):
		}
	}
}

// Remove deletes path, ignoring a file that is already gone.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrapf(err, "artifact: remove %s", path)
	}
	return nil
}
