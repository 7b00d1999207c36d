package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List the datasets in the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "KEY\tLABEL\tENABLED\tSOURCES\tLOCAL FILE")
		_, _ = fmt.Fprintln(w, "---\t-----\t-------\t-------\t----------")

		for _, ds := range env.Catalog.Datasets {
			enabled := "yes"
			if !ds.Enabled {
				enabled = "no"
			}
			local := "-"
			if env.Store.Exists(ds.Key) {
				local = ds.Key + ".csv"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", ds.Key, ds.Label, enabled, len(ds.Sources), local)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(datasetsCmd)
}
