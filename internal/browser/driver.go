// Package browser owns the single browser process of a run: engine
// selection, element waits with explicit timeouts, and guaranteed cleanup.
package browser

import (
	"context"
	"time"
)

// Element is a located DOM element.
type Element interface {
	Visible() (bool, error)
	Click() error
	Clear() error
	Type(text string) error
	Text() (string, error)
	InnerHTML() (string, error)
	ScrollIntoView() error
}

// Driver is the capability set the crawler needs from a browser engine.
// Scripts use the WebDriver convention: a function body reading its
// parameters from arguments[i].
type Driver interface {
	Navigate(url string) error
	FindElements(loc Locator) ([]Element, error)
	CurrentURL() (string, error)
	RunScript(script string, args ...any) (any, error)
	Screenshot() ([]byte, error)
	PageSource() (string, error)
	SwitchToFrame(index int) error
	SwitchToDefault() error
	// PID is the browser process id, 0 when unknown.
	PID() int
	Quit() error
}

// LaunchOptions are passed to every engine launcher.
type LaunchOptions struct {
	DownloadDir string
	LogsDir     string
	Timeout     time.Duration
	Display     DisplayInfo
	Debug       bool
	LocalConfig bool
}

// Launcher starts one engine. Launchers are tried in order until one
// returns a Driver.
type Launcher interface {
	Engine() string
	// Paths lists the executables the launcher needs, for diagnostics.
	Paths() []string
	// Check verifies the executables are usable without starting them.
	Check(ctx context.Context) error
	Launch(ctx context.Context, opts LaunchOptions) (Driver, error)
}

// DisplayInfo identifies an X display.
type DisplayInfo struct {
	// Number is the display number without the leading colon.
	Number   string
	AuthPath string
}

// Env returns the environment entries that point a process at the display.
func (d DisplayInfo) Env() []string {
	if d.Number == "" {
		return nil
	}
	env := []string{"DISPLAY=:" + d.Number}
	if d.AuthPath != "" {
		env = append(env, "XAUTHORITY="+d.AuthPath)
	}
	return env
}

// Display is a virtual X server.
type Display interface {
	Start() (DisplayInfo, error)
	Stop() error
}
