// Package captcha submits reCAPTCHA v2 challenges to a paid solving service
// and polls for the token. Failures never propagate: the caller falls back to
// a manual click on the challenge.
package captcha

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	// DefaultPollInterval is the wait before each result poll.
	DefaultPollInterval = 10 * time.Second
	// DefaultMaxAttempts bounds the number of result polls.
	DefaultMaxAttempts = 12

	defaultTwoCaptchaURL = "https://2captcha.com"
	defaultCapmonsterURL = "https://api.capmonster.cloud"
)

// errGaveUp is returned by a backend when the poll budget is exhausted.
var errGaveUp = eris.New("captcha: no token after max attempts")

// Config holds the solver credentials. Empty values disable a backend.
type Config struct {
	CapmonsterKey string
	TwoCaptchaKey string
}

// Solver is one solving backend.
type Solver interface {
	Name() string
	Solve(ctx context.Context, siteKey, pageURL string) (string, error)
}

// APIError is a non-success answer from a solving backend.
type APIError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("captcha: %s returned HTTP %d: %s", e.Backend, e.StatusCode, e.Body)
}

type options struct {
	pollInterval  time.Duration
	maxAttempts   int
	twoCaptchaURL string
	capmonsterURL string
	httpClient    *http.Client
	sleep         func(ctx context.Context, d time.Duration) error
}

// Option configures a Service.
type Option func(*options)

// WithPollInterval overrides the wait between result polls.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithMaxAttempts overrides the number of result polls.
func WithMaxAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = n }
}

// WithTwoCaptchaURL points the 2captcha backend at another base URL.
func WithTwoCaptchaURL(u string) Option {
	return func(o *options) { o.twoCaptchaURL = u }
}

// WithCapmonsterURL points the capmonster backend at another base URL.
func WithCapmonsterURL(u string) Option {
	return func(o *options) { o.capmonsterURL = u }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// Service picks the first configured backend and solves challenges with it.
type Service struct {
	solver Solver
}

// New builds a Service. Capmonster wins over 2captcha when both are set.
func New(cfg Config, opts ...Option) *Service {
	o := options{
		pollInterval:  DefaultPollInterval,
		maxAttempts:   DefaultMaxAttempts,
		twoCaptchaURL: defaultTwoCaptchaURL,
		capmonsterURL: defaultCapmonsterURL,
		sleep:         sleep,
	}
	for _, opt := range opts {
		opt(&o)
	}

	newClient := func(base string) *resty.Client {
		var c *resty.Client
		if o.httpClient != nil {
			c = resty.NewWithClient(o.httpClient)
		} else {
			c = resty.New()
		}
		return c.SetBaseURL(base).SetTimeout(30 * time.Second)
	}

	s := &Service{}
	switch {
	case cfg.CapmonsterKey != "":
		s.solver = &capmonster{key: cfg.CapmonsterKey, http: newClient(o.capmonsterURL), opts: o}
	case cfg.TwoCaptchaKey != "":
		s.solver = &twoCaptcha{key: cfg.TwoCaptchaKey, http: newClient(o.twoCaptchaURL), opts: o}
	}
	return s
}

// Configured reports whether a backend credential is present.
func (s *Service) Configured() bool {
	return s != nil && s.solver != nil
}

// Backend names the selected backend, or "" when none is configured.
func (s *Service) Backend() string {
	if !s.Configured() {
		return ""
	}
	return s.solver.Name()
}

// Solve returns a token for the challenge on pageURL. ok is false when no
// backend is configured or the backend failed; the reason is logged.
func (s *Service) Solve(ctx context.Context, siteKey, pageURL string) (string, bool) {
	if !s.Configured() {
		return "", false
	}
	log := zap.L().With(zap.String("component", "captcha"), zap.String("backend", s.solver.Name()))
	if siteKey == "" {
		log.Warn("no site key found on page")
		return "", false
	}

	origin := PageOrigin(pageURL)
	log.Info("submitting captcha", zap.String("page", origin))

	token, err := s.solver.Solve(ctx, siteKey, origin)
	if err != nil {
		log.Warn("captcha not solved", zap.Error(err))
		return "", false
	}
	if token == "" {
		log.Warn("captcha backend returned an empty token")
		return "", false
	}
	log.Info("captcha solved")
	return token, true
}

// PageOrigin reduces a page URL to scheme://host:port, appending the
// scheme's default port when none is given.
func PageOrigin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host += ":443"
		default:
			host += ":80"
		}
	}
	return u.Scheme + "://" + host
}

// poll waits, checks, and repeats until check reports done or the attempt
// budget runs out.
func poll(ctx context.Context, o options, backend string, check func(ctx context.Context) (string, bool, error)) (string, error) {
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		zap.L().Debug("waiting for captcha result",
			zap.String("backend", backend),
			zap.Int("attempt", attempt),
			zap.Duration("interval", o.pollInterval),
		)
		if err := o.sleep(ctx, o.pollInterval); err != nil {
			return "", eris.Wrap(err, "captcha: poll")
		}
		token, done, err := check(ctx)
		if err != nil {
			return "", err
		}
		if done {
			return token, nil
		}
	}
	return "", errGaveUp
}

func sleep(ctx context.Context, d time.Duration) error {
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
