package crawler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/meters-to-ha/internal/browser"
)

// recaptchaClientsScript defines window.findRecaptchaClients, which walks the
// page's reCAPTCHA configuration and returns one entry per widget with its
// sitekey and callback.
const recaptchaClientsScript = `
window.findRecaptchaClients = function() {
  if (typeof (___grecaptcha_cfg) === 'undefined') {
    return [];
  }
  return Object.entries(___grecaptcha_cfg.clients).map(([cid, client]) => {
    const data = { id: cid, version: cid >= 10000 ? 'V3' : 'V2' };
    const objects = Object.entries(client).filter(([_, value]) => value && typeof value === 'object');
    objects.forEach(([toplevelKey, toplevel]) => {
      const found = Object.entries(toplevel).find(([_, value]) => (
        value && typeof value === 'object' && 'sitekey' in value && 'size' in value
      ));
      if (typeof toplevel === 'object' && toplevel instanceof HTMLElement && toplevel['tagName'] === 'DIV') {
        data.pageurl = toplevel.baseURI;
      }
      if (found) {
        const [sublevelKey, sublevel] = found;
        data.sitekey = sublevel.sitekey;
        const callbackKey = data.version === 'V2' ? 'callback' : 'promise-callback';
        const callback = sublevel[callbackKey];
        if (!callback) {
          data.callback = null;
          data.function = null;
        } else {
          data.function = callback;
          const keys = [cid, toplevelKey, sublevelKey, callbackKey].map((key) => "['" + key + "']").join('');
          data.callback = '___grecaptcha_cfg.clients' + keys;
        }
      }
    });
    return data;
  });
};
`

const siteKeyScript = recaptchaClientsScript + `
var clients = window.findRecaptchaClients();
return clients.length > 0 && clients[0].sitekey ? clients[0].sitekey : "";
`

// submitTokenScript fills the response field with arguments[0] and invokes
// the widget's own callback.
const submitTokenScript = recaptchaClientsScript + `
var token = arguments[0];
var field = document.querySelector('[name="g-recaptcha-response"]');
if (field) {
  field.innerText = token;
  field.innerHTML = token;
  field.value = token;
}
var clients = window.findRecaptchaClients();
if (clients.length > 0 && typeof clients[0].function === 'function') {
  clients[0].function(token);
  return true;
}
return false;
`

var recaptchaCheckbox = browser.Class("recaptcha-checkbox-border")

const (
	captchaSettle       = 2 * time.Second
	captchaManualWait   = 30 * time.Second
	captchaManualSettle = 2 * time.Second
)

// passCaptcha tries the solving service first and falls back to clicking the
// checkbox, leaving the challenge to a human in interactive mode.
func (c *Crawler) passCaptcha(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "crawler"), zap.String("step", "captcha"))

	var siteKey string
	if res, err := c.browser.RunScript(siteKeyScript); err != nil {
		log.Warn("site key lookup failed", zap.Error(err))
	} else if s, ok := res.(string); ok {
		siteKey = s
	}
	pageURL, err := c.browser.CurrentURL()
	if err != nil {
		log.Warn("current url unknown", zap.Error(err))
	}

	if c.solver != nil {
		if token, ok := c.solver.Solve(ctx, siteKey, pageURL); ok {
			res, err := c.browser.RunScript(submitTokenScript, token)
			if err == nil {
				log.Info("captcha token submitted", zap.Any("callback_invoked", res))
				return c.browser.Settle(ctx, captchaSettle)
			}
			log.Warn("captcha token injection failed, falling back to click", zap.Error(err))
		}
	}

	log.Info("clicking the captcha checkbox")
	if err := c.browser.SwitchToFrame(0); err != nil {
		log.Warn("captcha frame not found", zap.Error(err))
	} else {
		if el, err := c.browser.WaitPresent(ctx, recaptchaCheckbox, 0); err != nil {
			log.Warn("captcha checkbox not found", zap.Error(err))
		} else if err := el.Click(); err != nil {
			log.Warn("captcha checkbox click failed", zap.Error(err))
		}
		if err := c.browser.SwitchToDefault(); err != nil {
			return err
		}
	}

	if c.opts.Interactive {
		log.Info("waiting for the user to solve the captcha", zap.Duration("wait", captchaManualWait))
		return c.browser.Settle(ctx, captchaManualWait)
	}
	return c.browser.Settle(ctx, captchaManualSettle)
}
