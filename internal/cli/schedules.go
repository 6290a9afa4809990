package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/orchestra/pkg/model"
)

func newSchedulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedules",
		Aliases: []string{"schedule", "sched"},
		Short:   "Manage cron schedules",
	}
	cmd.AddCommand(
		newSchedulesListCmd(),
		newSchedulesCreateCmd(),
		newScheduleToggleCmd("enable", "Arm a schedule"),
		newScheduleToggleCmd("disable", "Disarm a schedule"),
		newSchedulesDeleteCmd(),
	)
	return cmd
}

func newSchedulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List schedules with their next run",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/schedules")
			if err != nil {
				return fmt.Errorf("list schedules: %w", err)
			}
			var list []model.Schedule
			if err := resp.decode(&list); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No schedules found.")
				return nil
			}
			fmt.Fprintf(out, "%-42s  %-22s  %-16s  %-20s  %-11s  %-5s  %s\n", "ID", "NAME", "CRON", "TASK", "STATE", "RUNS", "NEXT RUN")
			fmt.Fprintf(out, "%-42s  %-22s  %-16s  %-20s  %-11s  %-5s  %s\n", "--", "----", "----", "----", "-----", "----", "--------")
			for _, s := range list {
				fmt.Fprintf(out, "%-42s  %-22s  %-16s  %-20s  %-11s  %-5d  %s\n",
					s.ID, s.Name, s.CronExpression, s.TaskRef, s.State, s.RunCount, formatTime(s.NextRun))
			}
			return nil
		},
	}
}

func newSchedulesCreateCmd() *cobra.Command {
	var (
		name, cronExpr, taskRef, description string
		disabled                             bool
		params                               []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a schedule",
		Example: `  orchestra schedules create --name daily-digest --cron "0 18 * * *" --task sendDailyDigest
  orchestra schedules create --name nightly-scrape --cron @daily --task scrapeSources --param since=24h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseParams(params)
			if err != nil {
				return err
			}
			req := model.CreateScheduleRequest{
				Name:        name,
				Cron:        cronExpr,
				TaskRef:     taskRef,
				Description: description,
				Params:      p,
			}
			if disabled {
				enabled := false
				req.Enabled = &enabled
			}

			resp, err := client.Post("/api/v1/schedules", req)
			if err != nil {
				return fmt.Errorf("create schedule: %w", err)
			}
			var s model.Schedule
			if err := resp.decode(&s); err != nil {
				return err
			}
			printSchedule(cmd.OutOrStdout(), "Created", s)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Schedule name (unique)")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression (5 fields, optional leading seconds, or @descriptor)")
	cmd.Flags().StringVar(&taskRef, "task", "", "Task ref from the catalog")
	cmd.Flags().StringVar(&description, "description", "", "Free-form description")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create without arming")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Task parameter as key=value (repeatable)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("cron")
	cmd.MarkFlagRequired("task")
	return cmd
}

func newScheduleToggleCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <schedule-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Put("/api/v1/schedules/"+args[0]+"/"+action, nil)
			if err != nil {
				return fmt.Errorf("%s schedule: %w", action, err)
			}
			var s model.Schedule
			if err := resp.decode(&s); err != nil {
				return err
			}
			verb := "Enabled"
			if action == "disable" {
				verb = "Disabled"
			}
			printSchedule(cmd.OutOrStdout(), verb, s)
			return nil
		},
	}
}

func newSchedulesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <schedule-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a schedule",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.Delete("/api/v1/schedules/" + args[0]); err != nil {
				return fmt.Errorf("delete schedule: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted schedule %s\n", args[0])
			return nil
		},
	}
}

func printSchedule(out io.Writer, verb string, s model.Schedule) {
	fmt.Fprintf(out, "%s schedule %s\n", verb, s.ID)
	fmt.Fprintf(out, "  Name:     %s\n", s.Name)
	fmt.Fprintf(out, "  Cron:     %s\n", s.CronExpression)
	fmt.Fprintf(out, "  Task:     %s\n", s.TaskRef)
	fmt.Fprintf(out, "  State:    %s\n", s.State)
	fmt.Fprintf(out, "  Next run: %s\n", formatTime(s.NextRun))
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
