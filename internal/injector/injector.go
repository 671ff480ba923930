// Package injector publishes normalized readings to a home-automation
// backend: Home Assistant over its REST state API or Domoticz over json.htm.
package injector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/meters-to-ha/internal/config"
	"github.com/sells-group/meters-to-ha/internal/model"
	"github.com/sells-group/meters-to-ha/internal/resilience"
)

// Injector is a home-automation backend.
type Injector interface {
	// Name is the backend's display name.
	Name() string
	// SanityCheck verifies connectivity and target configuration. It runs
	// before any browser work.
	SanityCheck(ctx context.Context) error
	// LastGasState reads the last published gas energy total.
	LastGasState(ctx context.Context) (model.CumulativeState, error)
	// PushWater publishes a water update.
	PushWater(ctx context.Context, u model.WaterUpdate) error
	// PushGas publishes a gas update.
	PushGas(ctx context.Context, u model.GasUpdate) error
	// WantsHistory reports whether PushWater expects every measured row.
	WantsHistory() bool
}

// BackendError is a non-success answer from a backend.
type BackendError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("injector: url=%s status=%d body=%s", e.URL, e.StatusCode, e.Body)
}

type options struct {
	httpClient *http.Client
	retry      resilience.RetryConfig
	limiter    *rate.Limiter
	timeout    time.Duration
}

// Option configures a backend client.
type Option func(*options)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithRetry overrides the retry policy of every backend call.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(o *options) { o.retry = cfg }
}

// WithRateLimit overrides the Domoticz request throttle.
func WithRateLimit(l *rate.Limiter) Option {
	return func(o *options) { o.limiter = l }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func buildOptions(name string, opts []Option) options {
	o := options{
		retry:   resilience.DefaultRetryConfig(),
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
		timeout: 30 * time.Second,
	}
	o.retry.OnRetry = resilience.RetryLogger("injector", name)
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newClient(base string, o options) *resty.Client {
	var c *resty.Client
	if o.httpClient != nil {
		c = resty.NewWithClient(o.httpClient)
	} else {
		c = resty.New()
	}
	return c.SetBaseURL(base).SetTimeout(o.timeout)
}

// New selects the backend from the configuration type.
func New(cfg *config.Config, opts ...Option) Injector {
	if cfg.Timeout > 0 {
		opts = append([]Option{WithTimeout(cfg.TimeoutDuration())}, opts...)
	}
	if cfg.UsesHomeAssistant() {
		return NewHomeAssistant(cfg.HomeAssistant, cfg.Veolia.Contract, opts...)
	}
	return NewDomoticz(cfg.Domoticz, opts...)
}

// checkPublishable refuses readings that are not measured. A pushed value
// lands in a cumulative counter that cannot be corrected afterwards.
func checkPublishable(u model.WaterUpdate) error {
	for _, r := range append([]model.Reading{u.Latest}, u.History...) {
		if !r.Publishable() {
			return eris.Errorf("injector: refusing %s reading of %s", r.Quality, r.RawTime)
		}
	}
	return nil
}

// checkResponse maps a resty response to an error. 5xx and 429 answers are
// marked transient so the retry policy picks them up.
func checkResponse(resp *resty.Response, ok ...int) error {
	for _, code := range ok {
		if resp.StatusCode() == code {
			return nil
		}
	}
	be := &BackendError{
		URL:        redactURL(resp.Request.URL),
		StatusCode: resp.StatusCode(),
		Body:       truncate(resp.String(), 512),
	}
	if resilience.RetryableStatus(resp.StatusCode()) {
		return resilience.NewTransientError(be, resp.StatusCode())
	}
	return be
}

// redactURL hides credential query parameters.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for _, k := range []string{"username", "password"} {
		if q.Has(k) {
			q.Set(k, "xxx")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func wrapRequest(err error, action, target string) error {
	return eris.Wrapf(err, "injector: %s %s", action, redactURL(target))
}
