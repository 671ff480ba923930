package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/meters-to-ha/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const skipConfig = "skip-config"

var (
	cfg *config.Config

	configPath string
	logsFolder string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "meters-to-ha",
	Short: "Import water and gas meter readings into home automation",
	Long: "Logs into the Veolia water and GRDF gas customer portals with a real browser, " +
		"downloads the consumption history and pushes the latest measured values to Home Assistant or Domoticz.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[skipConfig] != "" {
			return nil
		}

		c, err := config.Load(configPath)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c.WithLogsFolder(logsFolder)

		if err := config.InitLogger(cfg.Log, cfg.LogsFolder, debug); err != nil {
			return eris.Wrap(err, "init logger")
		}

		zap.L().Info("starting", zap.String("version", version), zap.String("command", cmd.Name()))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.json", "configuration file")
	rootCmd.PersistentFlags().StringVarP(&logsFolder, "logs-folder", "l", "", "folder for service.log and debug artifacts")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "verbose logs on the console and a visible browser")
}

// hinter is implemented by errors carrying an operator remediation.
type hinter interface {
	Hint() string
}

// reportError prints the final failure message.
func reportError(w io.Writer, err error, debug bool) {
	zap.L().Error("ended with error", zap.Error(err))

	fmt.Fprintf(w, "Ended with error: %v\n", err)
	var h hinter
	if errors.As(err, &h) {
		fmt.Fprintln(w, h.Hint())
	}
	if !debug {
		fmt.Fprintln(w, "re-run with --debug for more details")
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		reportError(os.Stderr, err, debug)
		_ = zap.L().Sync()
		os.Exit(2)
	}
}
