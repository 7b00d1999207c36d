package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List canonical dataset files",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv()
		if err != nil {
			return err
		}
		defer env.Close()

		files, err := env.Store.List()
		if err != nil {
			return err
		}

		if len(files) == 0 {
			zap.L().Info("no canonical files yet, run 'datahub refresh' first")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "FILE\tSIZE\tMODIFIED")
		_, _ = fmt.Fprintln(w, "----\t----\t--------")
		for _, f := range files {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", f.Name, f.Size, f.Modified.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(filesCmd)
}
