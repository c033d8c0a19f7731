package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/datemover/internal/history"
	"github.com/sells-group/datemover/internal/store"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List recorded history snapshots",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("snapshots"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st == nil {
			return eris.New("snapshots: store driver is none")
		}
		defer st.Close() //nolint:errcheck

		issue, _ := cmd.Flags().GetString("issue")
		field, _ := cmd.Flags().GetString("field")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.SnapshotFilter{IssueKey: issue, Limit: limit}
		if field != "" {
			filter.FieldID = string(history.NormalizeFieldID(field))
		}

		snaps, err := st.ListSnapshots(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "snapshots list")
		}
		if len(snaps) == 0 {
			fmt.Fprintln(os.Stderr, "No snapshots found.")
			return nil
		}
		formatSnapshots(os.Stdout, snaps)
		return nil
	},
}

func formatSnapshots(out io.Writer, snaps []store.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RECORDED\tISSUE\tFIELD\tCURRENT\tPREVIOUS\tCHANGES\tSLIP")
	_, _ = fmt.Fprintln(w, "--------\t-----\t-----\t-------\t--------\t-------\t----")
	for _, s := range snaps {
		prev := "-"
		if len(s.History) > 0 {
			prev = strings.Join(s.History, ", ")
		}
		slip := s.SlipDisplay
		if slip == "" {
			slip = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			s.RecordedAt.Format("2006-01-02 15:04"),
			s.IssueKey,
			s.FieldID,
			s.Current,
			prev,
			s.ChangeCount,
			slip,
		)
	}
	_ = w.Flush()
}

func init() {
	snapshotsCmd.Flags().String("issue", "", "filter by issue key")
	snapshotsCmd.Flags().String("field", "", "filter by field id")
	snapshotsCmd.Flags().Int("limit", 100, "maximum snapshots to list")
	rootCmd.AddCommand(snapshotsCmd)
}
