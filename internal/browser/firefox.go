package browser

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/firefox"
	"go.uber.org/zap"
)

const (
	EngineFirefox = "firefox"

	firefoxWidth  = 1600
	firefoxHeight = 1200
)

// FirefoxLauncher drives Firefox through geckodriver.
type FirefoxLauncher struct {
	Binary string
	Driver string
}

func (l *FirefoxLauncher) Engine() string { return EngineFirefox }

func (l *FirefoxLauncher) Paths() []string {
	return []string{"firefox=" + l.Binary, "geckodriver=" + l.Driver}
}

// Check verifies both executables and warns about very old Firefox releases.
func (l *FirefoxLauncher) Check(ctx context.Context) error {
	if err := checkExecutable(l.Binary); err != nil {
		return err
	}
	if err := checkExecutable(l.Driver); err != nil {
		return err
	}

	out, err := exec.CommandContext(ctx, l.Binary, "--version").Output()
	if err != nil {
		return eris.Wrapf(err, "browser: %s --version", l.Binary)
	}
	major, minor, err := parseFirefoxVersion(string(out))
	if err != nil {
		return err
	}
	if major < 60 || major == 60 && minor < 9 {
		zap.L().Warn("firefox is too old (< 60.9), crawling may fail",
			zap.Int("major", major), zap.Int("minor", minor))
	}
	return nil
}

var firefoxVersionRe = regexp.MustCompile(`(\d+)\.(\d+)`)

func parseFirefoxVersion(out string) (int, int, error) {
	m := firefoxVersionRe.FindStringSubmatch(out)
	if m == nil {
		return 0, 0, eris.Errorf("browser: no version in %q", out)
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	return major, minor, nil
}

// Launch starts geckodriver on a free port and opens a Firefox session with
// downloads going straight to the download folder.
func (l *FirefoxLauncher) Launch(_ context.Context, opts LaunchOptions) (Driver, error) {
	if err := checkExecutable(l.Binary); err != nil {
		return nil, err
	}
	if err := checkExecutable(l.Driver); err != nil {
		return nil, err
	}

	port, err := freePort()
	if err != nil {
		return nil, err
	}

	var out io.Writer = io.Discard
	logFile, err := os.OpenFile(filepath.Join(opts.LogsDir, "geckodriver.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err == nil {
		out = logFile
	}

	svcOpts := []selenium.ServiceOption{selenium.Output(out)}
	if opts.Display.Number != "" {
		svcOpts = append(svcOpts, selenium.Display(opts.Display.Number, opts.Display.AuthPath))
	}

	before := ChildPIDs()
	svc, err := selenium.NewGeckoDriverService(l.Driver, port, svcOpts...)
	if err != nil {
		closeQuietly(logFile)
		return nil, eris.Wrap(err, "browser: start geckodriver")
	}
	// selenium.Service does not expose its process; geckodriver is the child
	// that appeared while it started.
	var svcPID int
	if started := NewPIDs(before, ChildPIDs()); len(started) == 1 {
		svcPID = started[0]
	} else {
		zap.L().Debug("geckodriver pid not identified", zap.Ints("candidates", started))
	}

	var args []string
	if opts.Display.Number == "" && !opts.Debug {
		args = append(args, "-headless")
	}

	caps := selenium.Capabilities{"browserName": "firefox"}
	caps.AddFirefox(firefox.Capabilities{
		Binary: l.Binary,
		Args:   args,
		Prefs: map[string]interface{}{
			"browser.download.dir":                     opts.DownloadDir,
			"browser.download.folderList":              2,
			"browser.download.manager.showWhenStarting": false,
			"browser.helperApps.neverAsk.saveToDisk":   "text/csv",
			"browser.helperApps.neverAsk.openFile":     "text/csv",
			"browser.helperApps.alwaysAsk.force":       false,
			// Render JSON endpoints as a plain <pre> document.
			"devtools.jsonview.enabled": false,
		},
	})

	wd, err := selenium.NewRemote(caps, fmt.Sprintf("http://127.0.0.1:%d", port))
	if err != nil {
		_ = svc.Stop()
		closeQuietly(logFile)
		return nil, eris.Wrap(err, "browser: open firefox session")
	}

	if err := wd.ResizeWindow("", firefoxWidth, firefoxHeight); err != nil {
		zap.L().Debug("resize firefox window", zap.Error(err))
	}
	if opts.Timeout > 0 {
		if err := wd.SetPageLoadTimeout(opts.Timeout); err != nil {
			zap.L().Debug("set page load timeout", zap.Error(err))
		}
	}

	d := &seleniumDriver{wd: wd, svc: svc, log: logFile, svcPID: svcPID}
	if c, err := wd.Capabilities(); err == nil {
		if pid, ok := c["moz:processID"].(float64); ok {
			d.pid = int(pid)
		}
	}
	return d, nil
}

type seleniumDriver struct {
	wd  selenium.WebDriver
	svc *selenium.Service
	log *os.File
	// svcPID is geckodriver, the parent of the firefox process pid.
	svcPID int
	pid    int
}

func (d *seleniumDriver) Navigate(url string) error { return d.wd.Get(url) }

func (d *seleniumDriver) FindElements(loc Locator) ([]Element, error) {
	by, value := string(ByCSS), loc.Selector()
	switch loc.By {
	case ByXPath, ByLinkText:
		by, value = string(loc.By), loc.Value
	}
	els, err := d.wd.FindElements(by, value)
	if err != nil {
		return nil, err
	}
	out := make([]Element, len(els))
	for i, el := range els {
		out[i] = &seleniumElement{wd: d.wd, el: el}
	}
	return out, nil
}

func (d *seleniumDriver) CurrentURL() (string, error) { return d.wd.CurrentURL() }

func (d *seleniumDriver) RunScript(script string, args ...any) (any, error) {
	if args == nil {
		args = []any{}
	}
	return d.wd.ExecuteScript(script, args)
}

func (d *seleniumDriver) Screenshot() ([]byte, error) { return d.wd.Screenshot() }

func (d *seleniumDriver) PageSource() (string, error) { return d.wd.PageSource() }

func (d *seleniumDriver) SwitchToFrame(index int) error { return d.wd.SwitchFrame(index) }

func (d *seleniumDriver) SwitchToDefault() error { return d.wd.SwitchFrame(nil) }

// PID returns geckodriver when known so that a tree kill also takes firefox.
func (d *seleniumDriver) PID() int {
	if d.svcPID > 0 {
		return d.svcPID
	}
	return d.pid
}

func (d *seleniumDriver) Quit() error {
	err := d.wd.Quit()
	if serr := d.svc.Stop(); err == nil && serr != nil {
		err = serr
	}
	closeQuietly(d.log)
	return err
}

type seleniumElement struct {
	wd selenium.WebDriver
	el selenium.WebElement
}

func (e *seleniumElement) Visible() (bool, error) { return e.el.IsDisplayed() }
func (e *seleniumElement) Click() error           { return e.el.Click() }
func (e *seleniumElement) Clear() error           { return e.el.Clear() }
func (e *seleniumElement) Type(text string) error { return e.el.SendKeys(text) }
func (e *seleniumElement) Text() (string, error)  { return e.el.Text() }

func (e *seleniumElement) InnerHTML() (string, error) {
	v, err := e.wd.ExecuteScript("return arguments[0].innerHTML;", []any{e.el})
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (e *seleniumElement) ScrollIntoView() error {
	_, err := e.wd.ExecuteScript("arguments[0].scrollIntoView({block: 'center'});", []any{e.el})
	return err
}

func checkExecutable(path string) error {
	if path == "" {
		return eris.New("browser: executable path not set")
	}
	info, err := os.Stat(path)
	if err != nil {
		return eris.Wrapf(err, "browser: %s", path)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return eris.Errorf("browser: %s is not executable", path)
	}
	return nil
}

func freePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, eris.Wrap(err, "browser: find free port")
	}
	defer ln.Close() //nolint:errcheck
	return ln.Addr().(*net.TCPAddr).Port, nil
}

func closeQuietly(f *os.File) {
	if f != nil {
		_ = f.Close()
	}
}
