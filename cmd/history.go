package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/datemover/internal/history"
	"github.com/sells-group/datemover/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history [ISSUE-KEY...]",
	Short: "Show date history and slip for issues",
	Long:  "Fetches each issue's date fields and changelog, reconciles the history of every tracked field and reports the slip from its first recorded value.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		jql, _ := cmd.Flags().GetString("jql")
		asJSON, _ := cmd.Flags().GetBool("json")
		record, _ := cmd.Flags().GetBool("record")
		maxIssues, _ := cmd.Flags().GetInt("max-issues")

		if jql == "" && len(args) == 0 {
			return eris.New("history: pass issue keys or --jql")
		}

		env, err := initEnv(ctx, "history", record)
		if err != nil {
			return err
		}
		defer env.Close()

		var results []history.ItemResult
		if jql != "" {
			results, err = env.Fetcher.FetchJQL(ctx, jql, maxIssues)
		} else {
			results, err = env.Fetcher.FetchIssues(ctx, args)
		}
		if err != nil {
			return err
		}

		if record {
			if err := recordSnapshots(cmd, env.Store, results); err != nil {
				return err
			}
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		if len(results) == 0 {
			fmt.Fprintln(os.Stderr, "No issues found.")
			return nil
		}
		formatHistory(os.Stdout, results)
		return nil
	},
}

func recordSnapshots(cmd *cobra.Command, st store.Store, results []history.ItemResult) error {
	if st == nil {
		zap.L().Warn("--record ignored: store driver is none")
		return nil
	}
	snaps := store.SnapshotsFrom(results, time.Now())
	n, err := st.SaveSnapshots(cmd.Context(), snaps)
	if err != nil {
		return eris.Wrap(err, "history: record snapshots")
	}
	zap.L().Info("snapshots recorded", zap.Int("count", n))
	return nil
}

func formatHistory(out io.Writer, results []history.ItemResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ISSUE\tFIELD\tCURRENT\tPREVIOUS\tCHANGES\tSLIP")
	_, _ = fmt.Fprintln(w, "-----\t-----\t-------\t--------\t-------\t----")

	for _, item := range results {
		if item.Error != nil {
			_, _ = fmt.Fprintf(w, "%s\t-\t-\t%s\t-\t-\n", item.IssueKey, failureText(item.Error))
			continue
		}
		if len(item.Fields) == 0 {
			_, _ = fmt.Fprintf(w, "%s\t-\t-\t-\t0\t-\n", item.IssueKey)
			continue
		}
		for _, f := range item.Fields {
			prev := "-"
			if len(f.History) > 0 {
				prev = strings.Join(f.History, ", ")
			}
			if f.Error != nil {
				prev = failureText(f.Error)
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				item.IssueKey,
				f.Name,
				f.Current,
				prev,
				f.ChangeCount,
				slipText(f.Slip),
			)
		}
		for _, n := range item.Notes {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t-\t-\t-\n", item.IssueKey, n.Name, n.Summary)
		}
	}
	_ = w.Flush()
}

func slipText(s *history.Slip) string {
	if s == nil {
		return "-"
	}
	if s.Classification == history.Unchanged {
		return "unchanged"
	}
	return fmt.Sprintf("%s (%s)", s.SignedDisplay, s.Classification)
}

func failureText(f *history.Failure) string {
	return fmt.Sprintf("error [%s]: %s", f.Kind, f.Message)
}

func init() {
	historyCmd.Flags().String("jql", "", "select issues with a JQL query instead of keys")
	historyCmd.Flags().Bool("json", false, "print results as JSON")
	historyCmd.Flags().Bool("record", false, "append results to the snapshot store")
	historyCmd.Flags().Int("max-issues", 500, "refuse a --jql query matching more issues (0 for no limit)")
	rootCmd.AddCommand(historyCmd)
}
