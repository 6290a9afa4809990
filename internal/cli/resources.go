package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/me/orchestra/pkg/model"
)

func newResourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "Show backend health and resource performance",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/resources/status")
			if err != nil {
				return fmt.Errorf("resource status: %w", err)
			}
			var st model.ResourceStatus
			if err := resp.decode(&st); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			health := "healthy"
			if !st.Healthy {
				health = "UNHEALTHY"
				if st.LastError != "" {
					health += " (" + st.LastError + ")"
				}
			}
			fmt.Fprintf(out, "Backend pool: %s\n\n", health)
			if len(st.Resources) == 0 {
				fmt.Fprintln(out, "No resources registered.")
				return nil
			}

			fmt.Fprintf(out, "%-28s  %-11s  %-5s  %-7s  %-7s  %-9s  %s\n", "NAME", "STATE", "SIZE", "CALLS", "ERRORS", "AVG MS", "TAGS")
			for _, r := range st.Resources {
				state := "available"
				switch {
				case r.Loading:
					state = "loading"
				case !r.Available:
					state = "unavailable"
				}
				if r.Pinned {
					state += "*"
				}
				fmt.Fprintf(out, "%-28s  %-11s  %-5d  %-7d  %-7d  %-9.0f  %s\n",
					r.Name, state, r.SizeHint, r.Performance.ResponseCount, r.Performance.ErrorCount,
					r.Performance.AverageResponseTimeMs, strings.Join(r.CapabilityTags, ","))
			}
			return nil
		},
	}
}

func newTasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List the task catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/tasks")
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}
			var tasks []model.TaskDefinition
			if err := resp.decode(&tasks); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-22s  %-10s  %-12s  %-9s  %s\n", "REF", "TYPE", "PRIORITY", "PAYLOAD", "DESCRIPTION")
			for _, t := range tasks {
				priority := string(t.PriorityHint)
				if priority == "" {
					priority = "-"
				}
				fmt.Fprintf(out, "%-22s  %-10s  %-12s  %-9s  %s\n", t.Ref, t.TaskType, priority, t.Payload.Kind, t.Description)
			}
			return nil
		},
	}
}
