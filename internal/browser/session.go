package browser

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/meters-to-ha/internal/artifact"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateUninitialized State = iota
	StateStarting
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultQuitGrace    = 10 * time.Second
)

// Options configures a Session.
type Options struct {
	Timeout     time.Duration
	DownloadDir string
	LogsDir     string
	Debug       bool
	LocalConfig bool

	// PollInterval is the element wait granularity. Default 250ms.
	PollInterval time.Duration
	// QuitGrace bounds the graceful quit before the process is killed.
	QuitGrace time.Duration
	// Sleep waits for d unless ctx ends first. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Session is the single browser of a run.
type Session struct {
	opts      Options
	display   Display
	launchers []Launcher
	kill      func(pid int) error
	children  func() []int

	mu        sync.Mutex
	state     State
	stopped   bool
	driver    Driver
	engine    string
	displayOn bool
	artifacts []string
	// baseline holds our child processes from before the engines launched.
	baseline []int
}

// NewSession builds a session. display may be nil to use the current X
// server (debug mode). Launchers are tried in the given order.
func NewSession(opts Options, display Display, launchers ...Launcher) *Session {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.QuitGrace <= 0 {
		opts.QuitGrace = defaultQuitGrace
	}
	if opts.Sleep == nil {
		opts.Sleep = Sleep
	}
	return &Session{
		opts:      opts,
		display:   display,
		launchers: launchers,
		kill:      KillProcessTree,
		children:  ChildPIDs,
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Engine returns the name of the running engine.
func (s *Session) Engine() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// Start brings up the display then the first engine that launches.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized {
		return eris.Errorf("browser: start in state %s", s.state)
	}
	s.state = StateStarting
	log := zap.L().With(zap.String("component", "browser"))

	var info DisplayInfo
	if s.display != nil {
		var err error
		info, err = s.display.Start()
		if err != nil {
			s.state = StateClosed
			return &StartError{Err: eris.Wrap(err, "browser: start virtual display")}
		}
		s.displayOn = true
		log.Debug("virtual display started", zap.String("display", info.Number))
	}

	lopts := LaunchOptions{
		DownloadDir: s.opts.DownloadDir,
		LogsDir:     s.opts.LogsDir,
		Timeout:     s.opts.Timeout,
		Display:     info,
		Debug:       s.opts.Debug,
		LocalConfig: s.opts.LocalConfig,
	}

	s.baseline = s.children()

	startErr := &StartError{}
	for _, l := range s.launchers {
		if err := ctx.Err(); err != nil {
			startErr.Err = err
			break
		}
		drv, err := l.Launch(ctx, lopts)
		if err != nil {
			log.Warn("engine failed to start", zap.String("engine", l.Engine()), zap.Strings("paths", l.Paths()), zap.Error(err))
			startErr.Attempts = append(startErr.Attempts, EngineAttempt{Engine: l.Engine(), Paths: l.Paths(), Err: err})
			continue
		}
		s.driver = drv
		s.engine = l.Engine()
		s.state = StateReady
		log.Info("browser started", zap.String("engine", s.engine), zap.Int("pid", drv.PID()))
		return nil
	}

	s.stopDisplay()
	s.state = StateClosed
	return startErr
}

func (s *Session) ready() (Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return nil, eris.Wrapf(ErrNotReady, "browser: state %s", s.state)
	}
	return s.driver, nil
}

// Navigate loads url and blocks until the document is no longer loading.
func (s *Session) Navigate(ctx context.Context, url string) error {
	drv, err := s.ready()
	if err != nil {
		return err
	}
	if err := drv.Navigate(url); err != nil {
		return eris.Wrapf(err, "browser: navigate %s", url)
	}

	deadline := time.Now().Add(s.opts.Timeout)
	for {
		state, err := drv.RunScript("return document.readyState;")
		if err == nil {
			if rs, ok := state.(string); ok && rs != "loading" {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return &TimeoutError{Locator: Tag("html"), Waited: "loaded", Timeout: s.opts.Timeout}
		}
		if err := s.opts.Sleep(ctx, s.opts.PollInterval); err != nil {
			return eris.Wrap(err, "browser: navigate cancelled")
		}
	}
}

// poll evaluates probe until it reports done or the timeout elapses.
func (s *Session) poll(ctx context.Context, loc Locator, waited string, timeout time.Duration, probe func([]Element) (Element, bool)) (Element, error) {
	drv, err := s.ready()
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = s.opts.Timeout
	}

	deadline := time.Now().Add(timeout)
	for {
		els, err := drv.FindElements(loc)
		if err != nil {
			// Lookups fail transiently while the page re-renders.
			els = nil
		}
		if el, done := probe(els); done {
			return el, nil
		}
		if time.Now().After(deadline) {
			return nil, &TimeoutError{Locator: loc, Waited: waited, Timeout: timeout}
		}
		if err := s.opts.Sleep(ctx, s.opts.PollInterval); err != nil {
			return nil, eris.Wrapf(err, "browser: wait for %s cancelled", loc)
		}
	}
}

func firstVisible(els []Element) Element {
	for _, el := range els {
		if ok, err := el.Visible(); err == nil && ok {
			return el
		}
	}
	return nil
}

// WaitVisible returns the first visible element matching loc. A zero timeout
// uses the configured one.
func (s *Session) WaitVisible(ctx context.Context, loc Locator, timeout time.Duration) (Element, error) {
	return s.poll(ctx, loc, "visible", timeout, func(els []Element) (Element, bool) {
		el := firstVisible(els)
		return el, el != nil
	})
}

// WaitPresent returns the first element matching loc, visible or not.
func (s *Session) WaitPresent(ctx context.Context, loc Locator, timeout time.Duration) (Element, error) {
	return s.poll(ctx, loc, "present", timeout, func(els []Element) (Element, bool) {
		if len(els) == 0 {
			return nil, false
		}
		return els[0], true
	})
}

// WaitGone blocks until no element matching loc is visible.
func (s *Session) WaitGone(ctx context.Context, loc Locator, timeout time.Duration) error {
	_, err := s.poll(ctx, loc, "gone", timeout, func(els []Element) (Element, bool) {
		return nil, firstVisible(els) == nil
	})
	return err
}

// Exists probes loc once without waiting.
func (s *Session) Exists(loc Locator) bool {
	drv, err := s.ready()
	if err != nil {
		return false
	}
	els, err := drv.FindElements(loc)
	return err == nil && len(els) > 0
}

// ClickWhenReady waits for loc to be visible, settles for delay, scrolls the
// element into view and clicks it.
func (s *Session) ClickWhenReady(ctx context.Context, loc Locator, delay time.Duration) error {
	el, err := s.WaitVisible(ctx, loc, 0)
	if err != nil {
		return err
	}
	if delay > 0 {
		zap.L().Debug("settle before click", zap.Stringer("locator", loc), zap.Duration("delay", delay))
		if err := s.opts.Sleep(ctx, delay); err != nil {
			return eris.Wrap(err, "browser: click cancelled")
		}
	}
	if err := el.ScrollIntoView(); err != nil {
		return &ClickError{Locator: loc, Err: err}
	}
	if err := el.Click(); err != nil {
		return &ClickError{Locator: loc, Err: err}
	}
	zap.L().Debug("clicked", zap.Stringer("locator", loc))
	return nil
}

// TypeInto optionally clears el then types text.
func (s *Session) TypeInto(el Element, text string, clear bool) error {
	if clear {
		if err := el.Clear(); err != nil {
			return eris.Wrap(err, "browser: clear field")
		}
	}
	if err := el.Type(text); err != nil {
		return eris.Wrap(err, "browser: type into field")
	}
	return nil
}

// Settle sleeps for d, letting the page finish client-side rendering.
func (s *Session) Settle(ctx context.Context, d time.Duration) error {
	return s.opts.Sleep(ctx, d)
}

// RunScript executes a WebDriver-style script in the current frame.
func (s *Session) RunScript(script string, args ...any) (any, error) {
	drv, err := s.ready()
	if err != nil {
		return nil, err
	}
	res, err := drv.RunScript(script, args...)
	if err != nil {
		return nil, eris.Wrap(err, "browser: run script")
	}
	return res, nil
}

// PageSource returns the serialized DOM of the current frame.
func (s *Session) PageSource() (string, error) {
	drv, err := s.ready()
	if err != nil {
		return "", err
	}
	src, err := drv.PageSource()
	if err != nil {
		return "", eris.Wrap(err, "browser: page source")
	}
	return src, nil
}

// CurrentURL returns the URL of the top-level document.
func (s *Session) CurrentURL() (string, error) {
	drv, err := s.ready()
	if err != nil {
		return "", err
	}
	u, err := drv.CurrentURL()
	if err != nil {
		return "", eris.Wrap(err, "browser: current url")
	}
	return u, nil
}

// SwitchToFrame focuses the index-th iframe of the page.
func (s *Session) SwitchToFrame(index int) error {
	drv, err := s.ready()
	if err != nil {
		return err
	}
	return eris.Wrapf(drv.SwitchToFrame(index), "browser: switch to frame %d", index)
}

// SwitchToDefault returns focus to the top-level document.
func (s *Session) SwitchToDefault() error {
	drv, err := s.ready()
	if err != nil {
		return err
	}
	return eris.Wrap(drv.SwitchToDefault(), "browser: switch to default content")
}

// Screenshot saves a PNG named name into the logs folder. Failures are only
// logged.
func (s *Session) Screenshot(name string) {
	log := zap.L().With(zap.String("component", "browser"), zap.String("screenshot", name))

	drv, err := s.ready()
	if err != nil {
		log.Debug("skip screenshot", zap.Error(err))
		return
	}
	data, err := drv.Screenshot()
	if err != nil {
		log.Warn("screenshot failed", zap.Error(err))
		return
	}
	path := filepath.Join(s.opts.LogsDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn("screenshot not saved", zap.String("path", path), zap.Error(err))
		return
	}
	log.Info("screenshot saved", zap.String("path", path))
}

// TrackArtifact registers a downloaded file for removal at Stop.
func (s *Session) TrackArtifact(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.artifacts {
		if p == path {
			return
		}
	}
	s.artifacts = append(s.artifacts, path)
}

// Stop terminates the browser and the display and removes tracked files
// unless keep is set or the session runs in debug mode. The graceful quit is
// bounded by QuitGrace; the process tree is then killed if still alive.
// Calling Stop again is a no-op.
func (s *Session) Stop(keep bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	s.state = StateClosed
	log := zap.L().With(zap.String("component", "browser"))

	if drv := s.driver; drv != nil {
		s.driver = nil
		pid := drv.PID()

		done := make(chan error, 1)
		go func() { done <- drv.Quit() }()

		select {
		case err := <-done:
			if err != nil {
				log.Warn("browser quit failed", zap.Error(err))
			}
		case <-time.After(s.opts.QuitGrace):
			log.Warn("browser quit timed out", zap.Duration("grace", s.opts.QuitGrace))
		}

		targets := []int{pid}
		if pid <= 0 {
			targets = NewPIDs(s.baseline, s.children())
			if len(targets) > 0 {
				log.Warn("browser pid unknown, killing processes started with the session", zap.Ints("pids", targets))
			}
		}
		for _, p := range targets {
			if err := s.kill(p); err != nil {
				log.Warn("kill browser process", zap.Int("pid", p), zap.Error(err))
			}
		}
		log.Info("browser closed", zap.String("engine", s.engine))
	}

	s.stopDisplay()

	if keep || s.opts.Debug {
		return
	}
	for _, p := range s.artifacts {
		if err := artifact.Remove(p); err != nil {
			log.Warn("remove downloaded file", zap.Error(err))
			continue
		}
		log.Debug("removed downloaded file", zap.String("path", p))
	}
}

func (s *Session) stopDisplay() {
	if !s.displayOn || s.display == nil {
		return
	}
	s.displayOn = false
	if err := s.display.Stop(); err != nil {
		zap.L().Warn("stop virtual display", zap.Error(err))
	}
}
