// Package crawler drives the provider portals through the browser session
// and leaves one raw export per provider in the download folder.
package crawler

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/meters-to-ha/internal/browser"
	"github.com/sells-group/meters-to-ha/internal/config"
	"github.com/sells-group/meters-to-ha/internal/model"
	"github.com/sells-group/meters-to-ha/internal/resilience"
)

// Browser is the subset of *browser.Session the portal workflows use.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, loc browser.Locator, timeout time.Duration) (browser.Element, error)
	WaitPresent(ctx context.Context, loc browser.Locator, timeout time.Duration) (browser.Element, error)
	WaitGone(ctx context.Context, loc browser.Locator, timeout time.Duration) error
	Exists(loc browser.Locator) bool
	ClickWhenReady(ctx context.Context, loc browser.Locator, delay time.Duration) error
	TypeInto(el browser.Element, text string, clear bool) error
	Settle(ctx context.Context, d time.Duration) error
	RunScript(script string, args ...any) (any, error)
	PageSource() (string, error)
	CurrentURL() (string, error)
	SwitchToFrame(index int) error
	SwitchToDefault() error
	Screenshot(name string)
	TrackArtifact(path string)
}

// Solver returns a captcha token for a page, or ok=false.
type Solver interface {
	Solve(ctx context.Context, siteKey, pageURL string) (string, bool)
}

// Options configures the portal workflows.
type Options struct {
	DownloadDir string
	Timeout     time.Duration
	Screenshot  bool
	// Interactive gives a human time to solve the captcha by hand.
	Interactive bool
	Veolia      config.VeoliaConfig
	GRDF        config.GRDFConfig
	// PollInterval is how often the download folder is checked.
	PollInterval time.Duration
	// Now is the clock used for the gas date range. Nil uses time.Now.
	Now func() time.Time
}

// OptionsFromConfig derives crawler options from the application config.
func OptionsFromConfig(cfg *config.Config, debug bool) Options {
	return Options{
		DownloadDir: cfg.DownloadFolder,
		Timeout:     cfg.TimeoutDuration(),
		Screenshot:  cfg.Screenshot,
		Interactive: debug,
		Veolia:      cfg.Veolia,
		GRDF:        cfg.GRDF,
	}
}

// Crawler runs the portal workflows.
type Crawler struct {
	browser Browser
	solver  Solver
	opts    Options

	retryConfig func(operation string) resilience.RetryConfig
	clickDelay  func() time.Duration
}

// New builds a crawler on top of an active browser session.
func New(b Browser, solver Solver, opts Options) *Crawler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Crawler{
		browser:     b,
		solver:      solver,
		opts:        opts,
		retryConfig: resilience.CrawlRetryConfig,
		clickDelay: func() time.Duration {
			return time.Second + rand.N(time.Second)
		},
	}
}

// Fetch runs the workflow of provider p. A failed attempt is retried once.
func (c *Crawler) Fetch(ctx context.Context, p model.Provider) (model.Artifact, error) {
	switch p {
	case model.ProviderWater:
		return c.FetchWater(ctx)
	case model.ProviderGas:
		return c.FetchGas(ctx)
	default:
		return model.Artifact{}, eris.Errorf("crawler: unknown provider %q", p)
	}
}

// FetchWater downloads the daily water history export.
func (c *Crawler) FetchWater(ctx context.Context) (model.Artifact, error) {
	return c.withRetry(ctx, "veolia", c.fetchWater)
}

// FetchGas downloads the gas consumption JSON.
func (c *Crawler) FetchGas(ctx context.Context) (model.Artifact, error) {
	return c.withRetry(ctx, "grdf", c.fetchGas)
}

func (c *Crawler) withRetry(ctx context.Context, op string, fn func(ctx context.Context) (model.Artifact, error)) (model.Artifact, error) {
	log := zap.L().With(zap.String("component", "crawler"), zap.String("portal", op))
	log.Info("crawl started")

	start := time.Now()
	a, err := resilience.DoVal(ctx, c.retryConfig(op), fn)
	if err != nil {
		log.Error("crawl failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return model.Artifact{}, eris.Wrapf(err, "crawler: %s", op)
	}
	log.Info("crawl complete", zap.String("file", a.Path), zap.Duration("elapsed", time.Since(start)))
	return a, nil
}

// step logs one workflow step and runs it.
func step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	zap.L().Debug("crawl step", zap.String("step", name))
	if err := fn(ctx); err != nil {
		return eris.Wrapf(err, "crawler: %s", name)
	}
	return nil
}
