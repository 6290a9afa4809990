package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/me/orchestra/internal/history"
	"github.com/me/orchestra/pkg/model"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit   int
		running bool
		stats   bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show execution history, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if stats {
				resp, err := client.Get("/api/v1/history/stats")
				if err != nil {
					return fmt.Errorf("history stats: %w", err)
				}
				var byType map[string]history.TaskStats
				if err := resp.decode(&byType); err != nil {
					return err
				}
				keys := make([]string, 0, len(byType))
				for k := range byType {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				fmt.Fprintf(out, "%-16s  %-6s  %-9s  %-6s  %-8s  %s\n", "TYPE", "TOTAL", "COMPLETED", "FAILED", "SUCCESS", "AVG MS")
				for _, k := range keys {
					s := byType[k]
					fmt.Fprintf(out, "%-16s  %-6d  %-9d  %-6d  %-8s  %.0f\n",
						k, s.Total, s.Completed, s.Failed, fmt.Sprintf("%.0f%%", s.SuccessRate*100), s.AvgDurationMs)
				}
				return nil
			}

			path := fmt.Sprintf("/api/v1/history?limit=%d", limit)
			if running {
				path = "/api/v1/history/running"
			}
			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			var records []model.ExecutionRecord
			if err := resp.decode(&records); err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "No executions found.")
				return nil
			}

			fmt.Fprintf(out, "%-42s  %-20s  %-10s  %-20s  %-10s  %-19s  %s\n", "JOB", "TASK", "STATUS", "RESOURCE", "DURATION", "STARTED", "ERROR")
			for _, r := range records {
				resource := r.ResourceName
				if resource == "" {
					resource = "-"
				}
				fmt.Fprintf(out, "%-42s  %-20s  %-10s  %-20s  %-10s  %-19s  %s\n",
					r.JobID, r.TaskRef, r.Status, resource, fmt.Sprintf("%.0fms", r.DurationMs),
					r.StartTime.Local().Format("2006-01-02 15:04:05"), r.ErrorKind)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", model.DefaultHistoryLimit, "Maximum records to show")
	cmd.Flags().BoolVar(&running, "running", false, "Show executions in flight instead")
	cmd.Flags().BoolVar(&stats, "stats", false, "Show success rate per task type")
	return cmd
}
