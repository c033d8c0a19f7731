package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/datemover/internal/config"
	"github.com/sells-group/datemover/internal/history"
	"github.com/sells-group/datemover/pkg/jira"
)

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "List tracker fields and mark the configured ones",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		customOnly, _ := cmd.Flags().GetBool("custom")

		env, err := initEnv(ctx, "check", false)
		if err != nil {
			return err
		}
		defer env.Close()

		all, err := env.Client.Fields(ctx)
		if err != nil {
			return eris.Wrap(err, "fields")
		}
		formatFields(os.Stdout, all, env.Fields, customOnly)
		return nil
	},
}

func formatFields(out io.Writer, all []jira.Field, fs *config.FieldSet, customOnly bool) {
	configured := make(map[history.FieldID]config.TrackedField, len(fs.CustomFields))
	for _, f := range fs.CustomFields {
		configured[history.NormalizeFieldID(f.ID)] = f
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tCUSTOM\tCONFIGURED")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t----------")
	for _, f := range all {
		if customOnly && !f.Custom {
			continue
		}
		mark := ""
		if tf, ok := configured[history.NormalizeFieldID(f.ID)]; ok {
			mark = tf.Type
			if tf.TrackHistory {
				mark += ", history"
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", f.ID, f.Name, f.Custom, mark)
	}
	_ = w.Flush()
}

func init() {
	fieldsCmd.Flags().Bool("custom", false, "only list custom fields")
	rootCmd.AddCommand(fieldsCmd)
}
