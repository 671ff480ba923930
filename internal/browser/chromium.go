package browser

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	EngineChromium = "chromium"

	chromiumWidth  = 1280
	chromiumHeight = 1024
)

// chromiumFlags quiet everything that gets in the way of an unattended run.
var chromiumFlags = []flags.Flag{
	"disable-modal-animations",
	"disable-login-animations",
	"disable-renderer-backgrounding",
	"disable-background-timer-throttling",
	"disable-backgrounding-occluded-windows",
	"disable-translate",
	"disable-popup-blocking",
	"disable-notifications",
	"disable-infobars",
	"disable-dev-shm-usage",
	"mute-audio",
}

// ChromiumLauncher drives Chromium over the DevTools protocol.
type ChromiumLauncher struct {
	Binary string
}

func (l *ChromiumLauncher) Engine() string { return EngineChromium }

func (l *ChromiumLauncher) Paths() []string { return []string{"chromium=" + l.Binary} }

func (l *ChromiumLauncher) Check(_ context.Context) error { return checkExecutable(l.Binary) }

// Launch starts Chromium, headless unless debugging, and opens a stealth page.
func (l *ChromiumLauncher) Launch(ctx context.Context, opts LaunchOptions) (Driver, error) {
	if err := checkExecutable(l.Binary); err != nil {
		return nil, err
	}

	lnch := launcher.New().
		Context(ctx).
		Bin(l.Binary).
		Headless(!opts.Debug).
		NoSandbox(os.Geteuid() == 0).
		Set("disable-blink-features", "AutomationControlled").
		Set("window-size", "1280,1024")
	for _, f := range chromiumFlags {
		lnch = lnch.Set(f)
	}
	if !opts.Debug {
		lnch = lnch.Set("disable-gpu")
	}
	if opts.LocalConfig {
		dir := filepath.Join(opts.DownloadDir, ".config", "google-chrome")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrap(err, "browser: create chromium user data dir")
		}
		lnch = lnch.UserDataDir(dir)
		zap.L().Info("using persistent chromium profile", zap.String("dir", dir))
	}
	if env := opts.Display.Env(); len(env) > 0 {
		lnch = lnch.Env(append(os.Environ(), env...)...)
	}

	var logFile *os.File
	if f, err := os.OpenFile(filepath.Join(opts.LogsDir, "chromium.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
		logFile = f
		lnch = lnch.Logger(f)
	} else {
		lnch = lnch.Logger(io.Discard)
	}

	u, err := lnch.Launch()
	if err != nil {
		closeQuietly(logFile)
		return nil, eris.Wrap(err, "browser: launch chromium")
	}

	d := &rodDriver{lnch: lnch, log: logFile, keepProfile: opts.LocalConfig}
	fail := func(err error, msg string) (Driver, error) {
		_ = d.Quit()
		return nil, eris.Wrap(err, msg)
	}

	d.browser = rod.New().ControlURL(u).Context(ctx)
	if err := d.browser.Connect(); err != nil {
		return fail(err, "browser: connect to chromium")
	}

	err = proto.BrowserSetDownloadBehavior{
		Behavior:     proto.BrowserSetDownloadBehaviorBehaviorAllow,
		DownloadPath: opts.DownloadDir,
	}.Call(d.browser)
	if err != nil {
		return fail(err, "browser: set download folder")
	}

	page, err := stealth.Page(d.browser)
	if err != nil {
		return fail(err, "browser: open stealth page")
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{Width: chromiumWidth, Height: chromiumHeight}); err != nil {
		zap.L().Debug("set chromium viewport", zap.Error(err))
	}
	d.root, d.current = page, page

	return d, nil
}

type rodDriver struct {
	lnch        *launcher.Launcher
	browser     *rod.Browser
	root        *rod.Page
	current     *rod.Page
	log         *os.File
	keepProfile bool
}

func (d *rodDriver) Navigate(url string) error {
	d.current = d.root
	return d.root.Navigate(url)
}

func (d *rodDriver) FindElements(loc Locator) ([]Element, error) {
	var (
		els rod.Elements
		err error
	)
	if loc.IsXPath() {
		els, err = d.current.ElementsX(loc.Selector())
	} else {
		els, err = d.current.Elements(loc.Selector())
	}
	if err != nil {
		return nil, err
	}
	out := make([]Element, len(els))
	for i, el := range els {
		out[i] = &rodElement{el: el}
	}
	return out, nil
}

func (d *rodDriver) CurrentURL() (string, error) {
	info, err := d.root.Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (d *rodDriver) RunScript(script string, args ...any) (any, error) {
	res, err := d.current.Eval("function() {"+script+"}", args...)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res.Value.Val(), nil
}

func (d *rodDriver) Screenshot() ([]byte, error) { return d.root.Screenshot(false, nil) }

func (d *rodDriver) PageSource() (string, error) { return d.current.HTML() }

func (d *rodDriver) SwitchToFrame(index int) error {
	frames, err := d.current.Elements("iframe")
	if err != nil {
		return err
	}
	if index < 0 || index >= len(frames) {
		return eris.Errorf("browser: frame %d not found (%d frames)", index, len(frames))
	}
	fr, err := frames[index].Frame()
	if err != nil {
		return err
	}
	d.current = fr
	return nil
}

func (d *rodDriver) SwitchToDefault() error {
	d.current = d.root
	return nil
}

func (d *rodDriver) PID() int { return d.lnch.PID() }

func (d *rodDriver) Quit() error {
	var err error
	if d.browser != nil {
		err = d.browser.Close()
	}
	d.lnch.Kill()
	if !d.keepProfile {
		d.lnch.Cleanup()
	}
	closeQuietly(d.log)
	return err
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Visible() (bool, error) { return e.el.Visible() }

func (e *rodElement) Click() error { return e.el.Click(proto.InputMouseButtonLeft, 1) }

func (e *rodElement) Clear() error {
	_, err := e.el.Eval(`function() {
		this.value = '';
		this.dispatchEvent(new Event('input', {bubbles: true}));
	}`)
	return err
}

func (e *rodElement) Type(text string) error { return e.el.Input(text) }

func (e *rodElement) Text() (string, error) { return e.el.Text() }

func (e *rodElement) InnerHTML() (string, error) {
	v, err := e.el.Property("innerHTML")
	if err != nil {
		return "", err
	}
	return v.Str(), nil
}

func (e *rodElement) ScrollIntoView() error { return e.el.ScrollIntoView() }
