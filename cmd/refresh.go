package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/datahub-cli/internal/acquire"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [key...]",
	Short: "Refresh datasets from their remote sources",
	Long: `Refresh the named datasets from their configured remote sources.

Sources are tried in catalog order; the first source that commits (or
proves the existing file current) settles the dataset. With no arguments,
every enabled dataset is refreshed. Unknown or disabled keys are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("starting refresh", zap.Strings("keys", args))

		outcomes := env.Orch.Refresh(cmd.Context(), args)
		formatOutcomes(os.Stdout, outcomes)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}

// formatOutcomes writes a tabular representation of refresh outcomes to w.
func formatOutcomes(out io.Writer, outcomes []acquire.Outcome) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tOK\tNOTE\tSOURCE")
	_, _ = fmt.Fprintln(w, "---\t--\t----\t------")

	for _, o := range outcomes {
		ok := "yes"
		if !o.OK {
			ok = "no"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", o.Key, ok, o.Note, truncate(o.SourceURL, 70))
	}
	_ = w.Flush()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
