package pipeline

import (
	"github.com/sells-group/meters-to-ha/internal/browser"
	"github.com/sells-group/meters-to-ha/internal/config"
)

// SessionFlags are the command line switches that shape the browser.
type SessionFlags struct {
	Debug       bool
	LocalConfig bool
}

// Launchers returns the configured engines in preference order.
func Launchers(cfg *config.Config) []browser.Launcher {
	var out []browser.Launcher
	for _, e := range cfg.Browser.Engines {
		switch e {
		case browser.EngineFirefox:
			out = append(out, &browser.FirefoxLauncher{Binary: cfg.Browser.Firefox, Driver: cfg.Browser.Geckodriver})
		case browser.EngineChromium:
			out = append(out, &browser.ChromiumLauncher{Binary: cfg.Browser.Chromium})
		}
	}
	return out
}

// SessionOptions derives the browser session options from the config.
func SessionOptions(cfg *config.Config, flags SessionFlags) browser.Options {
	return browser.Options{
		Timeout:     cfg.TimeoutDuration(),
		DownloadDir: cfg.DownloadFolder,
		LogsDir:     cfg.LogsFolder,
		Debug:       flags.Debug,
		LocalConfig: flags.LocalConfig,
	}
}

// NewSession builds the run's browser session. Outside debug mode the
// browser renders into a virtual frame buffer; in debug mode it uses the
// current display so a human can watch and help.
func NewSession(cfg *config.Config, flags SessionFlags) *browser.Session {
	var display browser.Display
	if !flags.Debug {
		display = browser.NewFrameBuffer()
	}
	return browser.NewSession(SessionOptions(cfg, flags), display, Launchers(cfg)...)
}
