package main

import (
	"context"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/meters-to-ha/internal/browser"
	"github.com/sells-group/meters-to-ha/internal/config"
	"github.com/sells-group/meters-to-ha/internal/injector"
	"github.com/sells-group/meters-to-ha/internal/pipeline"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration, the browsers and the backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkEnvironment(cmd.Context(), cmd.OutOrStdout(), cfg, pipeline.Launchers(cfg), injector.New(cfg))
	},
}

type checkResult struct {
	name   string
	detail string
	err    error
}

// checkEnvironment runs every pre-flight check without crawling and prints
// one row per check. It fails when the configuration is invalid, when no
// browser engine is usable or when the backend is unreachable.
func checkEnvironment(ctx context.Context, w io.Writer, c *config.Config, launchers []browser.Launcher, inj injector.Injector) error {
	providers := c.Providers(false, false)
	results := make([]checkResult, len(launchers)+2)
	results[0] = checkResult{
		name:   "configuration",
		detail: strings.Join(providerNames(providers), ", "),
		err:    c.Validate(providers),
	}

	// Probes are independent; a failing one must not cancel the others.
	var g errgroup.Group
	for i, l := range launchers {
		g.Go(func() error {
			results[i+1] = checkResult{
				name:   "browser " + l.Engine(),
				detail: strings.Join(l.Paths(), " "),
				err:    l.Check(ctx),
			}
			return nil
		})
	}
	g.Go(func() error {
		results[len(results)-1] = checkResult{
			name:   "backend " + inj.Name(),
			detail: "reachable",
			err:    inj.SanityCheck(ctx),
		}
		return nil
	})
	_ = g.Wait()

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Check", "Status", "Detail"})
	t.SetStyle(table.StyleLight)

	var failures, engineFailures []string
	usable := 0
	for _, r := range results {
		if r.err != nil {
			zap.L().Warn("check failed", zap.String("check", r.name), zap.Error(r.err))
			t.AppendRow(table.Row{r.name, "FAIL", r.err.Error()})
			if strings.HasPrefix(r.name, "browser ") {
				engineFailures = append(engineFailures, r.name)
			} else {
				failures = append(failures, r.name)
			}
			continue
		}
		if strings.HasPrefix(r.name, "browser ") {
			usable++
		}
		t.AppendRow(table.Row{r.name, "OK", r.detail})
	}
	t.Render()

	// One working engine is enough.
	if usable == 0 {
		failures = append(failures, engineFailures...)
	}
	if len(failures) > 0 {
		return eris.Errorf("check: %s failed", strings.Join(failures, ", "))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
