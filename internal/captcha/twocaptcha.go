package captcha

import (
	"context"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
)

const twoCaptchaNotReady = "CAPCHA_NOT_READY"

// twoCaptcha talks to the 2captcha.com in.php/res.php API.
type twoCaptcha struct {
	key  string
	http *resty.Client
	opts options
}

func (t *twoCaptcha) Name() string { return "2captcha" }

func (t *twoCaptcha) Solve(ctx context.Context, siteKey, pageURL string) (string, error) {
	resp, err := t.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":       t.key,
			"method":    "userrecaptcha",
			"googlekey": siteKey,
			"pageurl":   pageURL,
		}).
		Get("/in.php")
	if err != nil {
		return "", eris.Wrap(err, "captcha: 2captcha submit")
	}
	if !resp.IsSuccess() {
		return "", &APIError{Backend: t.Name(), StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	body := strings.TrimSpace(resp.String())
	id, ok := strings.CutPrefix(body, "OK|")
	if !ok || id == "" {
		return "", eris.Errorf("captcha: 2captcha submit rejected: %s", body)
	}

	return poll(ctx, t.opts, t.Name(), func(ctx context.Context) (string, bool, error) {
		resp, err := t.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"key":    t.key,
				"action": "get",
				"id":     id,
			}).
			Get("/res.php")
		if err != nil {
			return "", false, eris.Wrap(err, "captcha: 2captcha poll")
		}
		if !resp.IsSuccess() {
			return "", false, &APIError{Backend: t.Name(), StatusCode: resp.StatusCode(), Body: resp.String()}
		}

		body := strings.TrimSpace(resp.String())
		if body == twoCaptchaNotReady {
			return "", false, nil
		}
		token, ok := strings.CutPrefix(body, "OK|")
		if !ok {
			return "", false, eris.Errorf("captcha: 2captcha poll failed: %s", body)
		}
		return token, true, nil
	})
}
