package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/datemover/pkg/jira"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Test the tracker URL and access token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("check"); err != nil {
			return err
		}
		client := newJiraClient(cfg.Jira, nil)
		defer client.Close()

		res := client.TestConnection(cmd.Context())
		formatConnection(os.Stdout, res)
		if !res.Success {
			return eris.New(res.Message)
		}
		return nil
	},
}

func formatConnection(out io.Writer, res jira.ConnectionResult) {
	if !res.Success {
		_, _ = fmt.Fprintf(out, "FAILED: %s\n", res.Message)
		if res.StatusCode != 0 {
			_, _ = fmt.Fprintf(out, "  status: %d\n", res.StatusCode)
		}
		if res.Kind != "" {
			_, _ = fmt.Fprintf(out, "  kind:   %s\n", res.Kind)
		}
		return
	}
	_, _ = fmt.Fprintf(out, "OK: %s\n", res.Message)
	_, _ = fmt.Fprintf(out, "  server:  %s (%s, %s)\n", res.ServerTitle, res.Version, res.DeploymentType)
	if res.User != "" {
		_, _ = fmt.Fprintf(out, "  user:    %s\n", res.User)
	}
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
