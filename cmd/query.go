package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/datahub-cli/internal/query"
)

var (
	queryFilter string
	queryLimit  int
	queryOffset int
)

var queryCmd = &cobra.Command{
	Use:   "query <key>",
	Short: "Query a dataset's canonical file",
	Long: `Stream a dataset's canonical CSV file and print a page of rows.

The filter is a case-insensitive substring matched across all columns.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Query.Query(args[0], queryFilter, queryLimit, queryOffset)
		if err != nil {
			return err
		}

		formatQueryResult(os.Stdout, result)
		return nil
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryFilter, "filter", "", "case-insensitive substring filter")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 20, "maximum rows to print")
	queryCmd.Flags().IntVar(&queryOffset, "offset", 0, "matches to skip before the page")
	rootCmd.AddCommand(queryCmd)
}

// formatQueryResult prints the page as a table plus the match count.
func formatQueryResult(out io.Writer, result *query.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for i, h := range result.Headers {
		if i > 0 {
			_, _ = fmt.Fprint(w, "\t")
		}
		_, _ = fmt.Fprint(w, h)
	}
	_, _ = fmt.Fprintln(w)

	for _, row := range result.Rows {
		for i, h := range result.Headers {
			if i > 0 {
				_, _ = fmt.Fprint(w, "\t")
			}
			_, _ = fmt.Fprint(w, truncate(row[h], 40))
		}
		_, _ = fmt.Fprintln(w)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\n%d of %d matching rows\n", len(result.Rows), result.TotalMatched)
}
