package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/meters-to-ha/internal/artifact"
	"github.com/sells-group/meters-to-ha/internal/browser"
	"github.com/sells-group/meters-to-ha/internal/model"
	"github.com/sells-group/meters-to-ha/internal/resilience"
)

const (
	// GRDFURL is the gas portal consumption page. It redirects to the login
	// form when the session is not authenticated.
	GRDFURL = "https://monespace.grdf.fr/client/particulier/consommation"
	// GasFile is the name of the gas export in the download folder.
	GasFile = "historique_gazpar.json"

	grdfDataURL = "https://monespace.grdf.fr/api/e-conso/pce/consommation/informatives"

	// gasHistoryDays is the span of the requested consumption window.
	gasHistoryDays = 7
)

var (
	grdfLoggedIn   = browser.ID("date-debut")
	grdfDenyCookie = browser.ID("btn_option_deny_banner")
	grdfPassword   = browser.ID("pass")
	grdfEmail      = browser.ID("mail")
	grdfConnect    = browser.XPath(`//input[@value='Connexion']`)
)

// GasDataURL returns the consumption endpoint for pce covering the week up
// to now.
func GasDataURL(pce string, now time.Time) string {
	return fmt.Sprintf("%s?dateDebut=%s&dateFin=%s&pceList[]=%s",
		grdfDataURL,
		now.AddDate(0, 0, -gasHistoryDays).Format(time.DateOnly),
		now.Format(time.DateOnly),
		url.QueryEscape(pce),
	)
}

func (c *Crawler) fetchGas(ctx context.Context) (model.Artifact, error) {
	path := filepath.Join(c.opts.DownloadDir, GasFile)
	b := c.browser

	if err := artifact.Remove(path); err != nil {
		return model.Artifact{}, resilience.Permanent(err)
	}

	err := step(ctx, "open consumption page", func(ctx context.Context) error {
		if err := b.Navigate(ctx, GRDFURL); err != nil {
			return err
		}
		return b.Settle(ctx, 3*time.Second)
	})
	if err != nil {
		return model.Artifact{}, err
	}

	if b.Exists(grdfLoggedIn) {
		zap.L().Info("grdf session already authenticated")
	} else if err := step(ctx, "log in", c.grdfLogin); err != nil {
		return model.Artifact{}, err
	}

	var content string
	err = step(ctx, "read consumption", func(ctx context.Context) error {
		if err := b.Navigate(ctx, GasDataURL(c.opts.GRDF.PCE, c.opts.Now())); err != nil {
			return err
		}
		src, err := b.PageSource()
		if err != nil {
			return err
		}
		content, err = extractJSON(src)
		return err
	})
	if err != nil {
		return model.Artifact{}, err
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return model.Artifact{}, resilience.Permanent(eris.Wrapf(err, "crawler: write %s", path))
	}
	b.TrackArtifact(path)

	return model.Artifact{Path: path, Provider: model.ProviderGas}, nil
}

func (c *Crawler) grdfLogin(ctx context.Context) error {
	b := c.browser

	if b.Exists(grdfDenyCookie) {
		if err := b.ClickWhenReady(ctx, grdfDenyCookie, 0); err != nil {
			return err
		}
	}
	if err := b.Navigate(ctx, GRDFURL); err != nil {
		return err
	}

	password, err := b.WaitPresent(ctx, grdfPassword, 0)
	if err != nil {
		return err
	}
	email, err := b.WaitPresent(ctx, grdfEmail, 0)
	if err != nil {
		return err
	}
	if err := b.TypeInto(email, c.opts.GRDF.Login, true); err != nil {
		return err
	}
	if err := b.TypeInto(password, c.opts.GRDF.Password, false); err != nil {
		return err
	}

	if err := c.passCaptcha(ctx); err != nil {
		return err
	}
	if err := b.SwitchToDefault(); err != nil {
		return err
	}

	if c.opts.Screenshot {
		b.Screenshot("screen_before_connection.png")
	}
	if err := b.ClickWhenReady(ctx, grdfConnect, c.clickDelay()); err != nil {
		return err
	}
	return b.Settle(ctx, 5*time.Second)
}

// extractJSON returns the JSON document the browser rendered as text: the
// first <pre> block, or the body text when there is none.
func extractJSON(src string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return "", eris.Wrap(err, "parse page source")
	}

	text := strings.TrimSpace(doc.Find("pre").First().Text())
	if text == "" {
		text = strings.TrimSpace(doc.Find("body").Text())
	}
	if text == "" {
		return "", eris.New("consumption page is empty")
	}
	if !json.Valid([]byte(text)) {
		return "", eris.Errorf("consumption page is not JSON: %.80q", text)
	}
	return text, nil
}
