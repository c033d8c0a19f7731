package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/datemover/internal/points"
)

var pointsCmd = &cobra.Command{
	Use:   "points ISSUE-KEY...",
	Short: "Break down story points of related issues by resolution",
	Long:  "Finds every issue related to the given parents (portfolio children, issues in their epics and subtasks) and totals their story points by resolution outcome and by Dev or QA work.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		asJSON, _ := cmd.Flags().GetBool("json")
		showJQL, _ := cmd.Flags().GetBool("jql")

		env, err := initEnv(ctx, "points", false)
		if err != nil {
			return err
		}
		defer env.Close()

		b, err := env.Points.Calculate(ctx, args)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(b)
		}
		formatPoints(os.Stdout, b)
		if showJQL {
			printPointQueries(os.Stdout, cfg.Jira.URL, b)
		}
		return nil
	},
}

func formatPoints(out io.Writer, b *points.Breakdown) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RESOLUTION\tDEV\tQA\tTOTAL")
	_, _ = fmt.Fprintln(w, "----------\t---\t--\t-----")
	rows := []struct {
		name string
		b    points.Bucket
	}{
		{points.Positive, b.Positive},
		{points.Negative, b.Negative},
		{points.Unresolved, b.Unresolved},
		{"total", b.Total},
	}
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%g\t%g\t%g\n", r.name, r.b.Dev, r.b.QA, r.b.Dev+r.b.QA)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\n%d issues counted, %d planning items skipped\n", b.Counted, b.Skipped)
}

func printPointQueries(out io.Writer, baseURL string, b *points.Breakdown) {
	for _, r := range []struct {
		name string
		b    points.Bucket
	}{
		{points.Positive, b.Positive},
		{points.Negative, b.Negative},
		{points.Unresolved, b.Unresolved},
	} {
		_, _ = fmt.Fprintf(out, "\n%s dev: %s\n", r.name, points.SearchURL(baseURL, r.b.DevQuery))
		_, _ = fmt.Fprintf(out, "%s qa:  %s\n", r.name, points.SearchURL(baseURL, r.b.QAQuery))
	}
}

func init() {
	pointsCmd.Flags().Bool("json", false, "print the breakdown as JSON")
	pointsCmd.Flags().Bool("jql", false, "print issue navigator links for each bucket")
	rootCmd.AddCommand(pointsCmd)
}
