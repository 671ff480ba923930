package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sells-group/meters-to-ha/internal/release"
)

var versionCheck bool

var versionCmd = &cobra.Command{
	Use:         "version",
	Short:       "Print the version",
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var checker *release.Checker
		if versionCheck {
			checker = release.NewChecker(version)
		}
		return printVersion(cmd.Context(), cmd.OutOrStdout(), checker)
	},
}

func printVersion(ctx context.Context, w io.Writer, checker *release.Checker) error {
	fmt.Fprintf(w, "meters_to_ha %s\n", version)
	if checker == nil {
		return nil
	}

	tag, newer, err := checker.Check(ctx)
	if err != nil {
		return err
	}
	if newer {
		fmt.Fprintf(w, "a newer release is available: %s\n", tag)
	} else {
		fmt.Fprintf(w, "up to date (latest release %s)\n", tag)
	}
	return nil
}

func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "query the latest published release")
	rootCmd.AddCommand(versionCmd)
}
