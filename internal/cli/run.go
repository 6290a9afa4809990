package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/me/orchestra/pkg/model"
)

func newRunCmd() *cobra.Command {
	var (
		params  []string
		showRaw bool
	)
	cmd := &cobra.Command{
		Use:   "run <task-ref>",
		Short: "Run a task now and wait for its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			resp, err := client.Post("/api/v1/run/"+args[0], model.RunRequest{Params: p})
			if err != nil {
				return fmt.Errorf("run %s: %w", args[0], err)
			}
			var rec model.ExecutionRecord
			if err := resp.decode(&rec); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if showRaw {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			}
			fmt.Fprintf(out, "Job:      %s\n", rec.JobID)
			fmt.Fprintf(out, "Task:     %s (%s)\n", rec.TaskRef, rec.TaskType)
			fmt.Fprintf(out, "Status:   %s\n", rec.Status)
			if rec.ResourceName != "" {
				fmt.Fprintf(out, "Resource: %s (%s)\n", rec.ResourceName, rec.Reason)
			}
			fmt.Fprintf(out, "Duration: %.0fms\n", rec.DurationMs)
			if rec.Error != "" {
				fmt.Fprintf(out, "Error:    [%s] %s\n", rec.ErrorKind, rec.Error)
			}
			if len(rec.Result) > 0 {
				fmt.Fprintf(out, "Result:   %s\n", rec.Result)
			}
			if rec.Status == model.ExecutionFailed {
				return fmt.Errorf("task %s failed: %s", rec.TaskRef, rec.ErrorKind)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "Task parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&showRaw, "json", false, "Print the execution record as JSON")
	return cmd
}

// parseParams turns key=value pairs into a params map. Values that parse as
// JSON (numbers, booleans, objects) keep their type.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q: want key=value", kv)
		}
		var typed any
		if err := json.Unmarshal([]byte(v), &typed); err == nil {
			out[k] = typed
		} else {
			out[k] = v
		}
	}
	return out, nil
}
