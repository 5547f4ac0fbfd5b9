package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"reelpipe/internal/apiclient"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, status)
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Daemon", colorize) {
					fmt.Fprintln(out, line)
				}
				runningKind := statusError
				runningMsg := "not running"
				if status.Running {
					runningKind = statusOK
					runningMsg = fmt.Sprintf("pid %d, %d workers", status.PID, status.Workers)
				}
				fmt.Fprintln(out, renderStatusLine("Running", runningKind, runningMsg, colorize))
				fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
				fmt.Fprintln(out, renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize))

				if len(status.QueueStats) > 0 {
					fmt.Fprintln(out)
					for _, line := range renderSectionHeader("Queue", colorize) {
						fmt.Fprintln(out, line)
					}
					names := make([]string, 0, len(status.QueueStats))
					for name := range status.QueueStats {
						names = append(names, name)
					}
					sort.Strings(names)
					for _, name := range names {
						fmt.Fprintln(out, renderStatusLine(name, statusInfo, fmt.Sprintf("%d", status.QueueStats[name]), colorize))
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable output")
	return cmd
}
