package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/datahub-cli/internal/runlog"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show refresh history",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Runs == nil {
			return eris.New("run log unavailable")
		}

		entries, err := env.Runs.List(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			zap.L().Info("no refresh runs recorded yet")
			return nil
		}

		formatRunEntries(os.Stdout, entries)
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 50, "maximum entries to show")
	rootCmd.AddCommand(runsCmd)
}

// formatRunEntries writes a tabular representation of run entries to w.
func formatRunEntries(out io.Writer, entries []runlog.Entry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DATASET\tSTATUS\tSTARTED\tDURATION\tNOTE")
	_, _ = fmt.Fprintln(w, "-------\t------\t-------\t--------\t----")

	for _, e := range entries {
		dur := "-"
		if e.CompletedAt != nil {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Dataset,
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
			truncate(e.Note, 60),
		)
	}
	_ = w.Flush()
}
