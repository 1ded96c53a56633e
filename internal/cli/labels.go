package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "List the category labels",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLabels(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(labelsCmd)
}

func runLabels(out io.Writer) error {
	meta, err := loadMetadata(cfg.MetadataPath)
	if err != nil {
		return err
	}
	tbl, err := loadTable(cfg, meta)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "INDEX\tLABEL")
	fmt.Fprintln(w, "-----\t-----")
	for i, name := range tbl.Names() {
		fmt.Fprintf(w, "%d\t%s\n", i, name)
	}
	return w.Flush()
}
