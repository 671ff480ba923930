package crawler

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/meters-to-ha/internal/artifact"
	"github.com/sells-group/meters-to-ha/internal/browser"
	"github.com/sells-group/meters-to-ha/internal/model"
	"github.com/sells-group/meters-to-ha/internal/resilience"
)

const (
	// VeoliaURL is the water portal login page.
	VeoliaURL = "https://espace-client.vedif.eau.veolia.fr/s/login/"
	// WaterFile is the name of the water export in the download folder.
	WaterFile = "historique_jours_litres.csv"

	menuContracts = "CONTRATS"
)

// Veolia page elements. Several email and password inputs exist depending
// on the screen size; the first visible one is used.
var (
	veoliaPassword = browser.CSS(`input[type="password"]`)
	veoliaEmail    = browser.XPath(`//input[@inputmode='email']`)
	veoliaSubmit   = browser.Class("submit-button")
	veoliaSpinner  = browser.CSS("lightning-spinner")
	veoliaMenu     = browser.XPath(`//span[contains(text(), 'CONTRATS') or contains(text(), 'HISTORIQUE')]`)
	veoliaHistory  = browser.LinkText("Historique")
	veoliaLiters   = browser.XPath(`//span[contains(text(), 'Litres')]/parent::node()`)
	veoliaDays     = browser.XPath(`//span[contains(text(), 'Jours')]/parent::node()`)
	veoliaDownload = browser.XPath(`//button[contains(text(),"charger la p")]`)
)

func (c *Crawler) fetchWater(ctx context.Context) (model.Artifact, error) {
	path := filepath.Join(c.opts.DownloadDir, WaterFile)
	b := c.browser
	log := zap.L().With(zap.String("component", "crawler"), zap.String("portal", "veolia"))

	if err := artifact.Remove(path); err != nil {
		return model.Artifact{}, resilience.Permanent(err)
	}

	err := step(ctx, "open login page", func(ctx context.Context) error {
		return b.Navigate(ctx, VeoliaURL)
	})
	if err != nil {
		return model.Artifact{}, err
	}

	err = step(ctx, "log in", func(ctx context.Context) error {
		password, err := b.WaitVisible(ctx, veoliaPassword, 0)
		if err != nil {
			return err
		}
		email, err := b.WaitVisible(ctx, veoliaEmail, 0)
		if err != nil {
			return err
		}
		if err := b.TypeInto(email, c.opts.Veolia.Login, true); err != nil {
			return err
		}
		if err := b.TypeInto(password, c.opts.Veolia.Password, true); err != nil {
			return err
		}
		if err := b.ClickWhenReady(ctx, veoliaSubmit, time.Second); err != nil {
			return err
		}
		if err := b.Settle(ctx, 500*time.Millisecond); err != nil {
			return err
		}
		if err := b.WaitGone(ctx, veoliaSpinner, 0); err != nil {
			return err
		}
		return b.Settle(ctx, time.Second)
	})
	if err != nil {
		return model.Artifact{}, err
	}

	err = step(ctx, "open history", func(ctx context.Context) error {
		menu, err := b.WaitVisible(ctx, veoliaMenu, 0)
		if err != nil {
			return err
		}
		if err := b.Settle(ctx, 2*time.Second); err != nil {
			return err
		}
		html, err := menu.InnerHTML()
		if err != nil {
			return eris.Wrap(err, "read menu")
		}
		menuType := strings.TrimSpace(html)
		log.Info("click on menu", zap.String("menu", menuType))
		if err := menu.Click(); err != nil {
			return &browser.ClickError{Locator: veoliaMenu, Err: err}
		}

		if menuType == menuContracts {
			if err := b.Settle(ctx, 2*time.Second); err != nil {
				return err
			}
			log.Info("select contract", zap.String("contract", c.opts.Veolia.Contract))
			if err := b.ClickWhenReady(ctx, browser.LinkText(c.opts.Veolia.Contract), 0); err != nil {
				return err
			}
		}

		if err := b.Settle(ctx, 2*time.Second); err != nil {
			return err
		}
		if err := b.ClickWhenReady(ctx, veoliaHistory, 4*time.Second); err != nil {
			return err
		}
		return b.Settle(ctx, 10*time.Second)
	})
	if err != nil {
		return model.Artifact{}, err
	}

	err = step(ctx, "download export", func(ctx context.Context) error {
		if err := b.ClickWhenReady(ctx, veoliaLiters, 2*time.Second); err != nil {
			return err
		}
		if err := b.Settle(ctx, 2*time.Second); err != nil {
			return err
		}
		if err := b.ClickWhenReady(ctx, veoliaDays, 2*time.Second); err != nil {
			return err
		}
		if err := b.ClickWhenReady(ctx, veoliaDownload, 10*time.Second); err != nil {
			return err
		}

		log.Info("waiting for download", zap.String("file", path))
		if err := artifact.WaitForFile(ctx, path, c.opts.Timeout, c.opts.PollInterval); err != nil {
			b.Screenshot("error.png")
			return err
		}
		return nil
	})
	if err != nil {
		return model.Artifact{}, err
	}

	b.TrackArtifact(path)
	return model.Artifact{Path: path, Provider: model.ProviderWater}, nil
}
