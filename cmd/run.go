package main

import (
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/meters-to-ha/internal/captcha"
	"github.com/sells-group/meters-to-ha/internal/config"
	"github.com/sells-group/meters-to-ha/internal/crawler"
	"github.com/sells-group/meters-to-ha/internal/injector"
	"github.com/sells-group/meters-to-ha/internal/model"
	"github.com/sells-group/meters-to-ha/internal/pipeline"
	"github.com/sells-group/meters-to-ha/internal/release"
)

var (
	runVeolia       bool
	runGRDF         bool
	runScreenshot   bool
	runKeep         bool
	runKeepCSV      bool
	runLocalConfig  bool
	runDryRun       bool
	runVersionCheck bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Collect the meters and push the readings",
	Long: "Crawls the selected portals (every configured one when neither --veolia nor --grdf is set), " +
		"normalizes the exports and publishes the measured values to the configured backend.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if runVersionCheck {
			if _, _, err := release.Check(ctx, version); err != nil {
				zap.L().Warn("version check failed", zap.Error(err))
			}
		}

		providers := cfg.Providers(runVeolia, runGRDF)
		if err := cfg.Validate(providers); err != nil {
			return err
		}

		report, err := newRunner(cfg, providers, cmd.OutOrStdout()).Run(ctx)
		if debug && report != nil {
			pipeline.RenderPhases(cmd.ErrOrStderr(), report)
		}
		if err != nil {
			return err
		}

		zap.L().Info("finished on success")
		return nil
	},
}

// newRunner wires the browser session, the crawler and the injector for one
// collection cycle.
func newRunner(c *config.Config, providers []model.Provider, out io.Writer) *pipeline.Runner {
	session := pipeline.NewSession(c, pipeline.SessionFlags{Debug: debug, LocalConfig: runLocalConfig})
	solver := captcha.New(captcha.Config{
		CapmonsterKey: c.Captcha.CapmonsterToken,
		TwoCaptchaKey: c.Captcha.TwoCaptchaToken,
	})
	opts := crawler.OptionsFromConfig(c, debug)
	opts.Screenshot = opts.Screenshot || runScreenshot
	fetcher := crawler.New(session, solver, opts)

	return pipeline.NewRunner(injector.New(c), session, fetcher, pipeline.Options{
		Providers: providers,
		PCE:       c.GRDF.PCE,
		DryRun:    runDryRun,
		Keep:      runKeep || runKeepCSV,
		Out:       out,
	})
}

func init() {
	f := runCmd.Flags()
	f.BoolVar(&runVeolia, "veolia", false, "collect the water meter")
	f.BoolVar(&runGRDF, "grdf", false, "collect the gas meter")
	f.BoolVar(&runScreenshot, "screenshot", false, "save a screenshot before the gas portal login")
	f.BoolVarP(&runKeep, "keep-output", "k", false, "keep the downloaded exports")
	f.BoolVar(&runKeepCSV, "keep_csv", false, "keep the downloaded exports")
	_ = f.MarkDeprecated("keep_csv", "use --keep-output instead")
	f.BoolVar(&runLocalConfig, "local-config", false, "keep a persistent chromium profile under the download folder")
	f.BoolVar(&runDryRun, "dry-run", false, "print the values that would be pushed and push nothing")
	f.BoolVar(&runVersionCheck, "version-check", false, "warn when a newer release is published")

	rootCmd.AddCommand(runCmd)
}
