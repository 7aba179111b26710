package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"icast/internal/config"
	"icast/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status [taskID]",
		Short: "Show pipeline status or one task in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid task id %q", args[0])
				}
				return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
					return printTaskDetail(cmd, st, id)
				})
			}

			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				stats, err := st.TaskStats(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Total: %d\nLoaded: %d\nIn progress: %d\nDone: %d\nFailed: %d\n",
					stats.Total, stats.Loaded, stats.InProgress, stats.Done, stats.Failed)

				tasks, err := st.ListTasks(cmd.Context())
				if err != nil {
					return err
				}
				if len(tasks) == 0 {
					return nil
				}

				rows := make([][]string, 0, len(tasks))
				for _, task := range tasks {
					rows = append(rows, []string{
						strconv.FormatInt(task.ID, 10),
						taskDisplayName(task),
						string(task.Stage),
						templateColumn(task),
						task.CreatedAt.Format("2006-01-02 15:04"),
					})
				}
				table := renderTable(
					[]string{"ID", "Audio", "Stage", "Template", "Created"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(out, table)
				return nil
			})
		},
	}
}

func printTaskDetail(cmd *cobra.Command, st *store.Store, id int64) error {
	task, err := st.GetTask(cmd.Context(), id)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %d not found", id)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task #%d\n", task.ID)
	fmt.Fprintf(out, "  Audio:      %s\n", taskDisplayName(task))
	fmt.Fprintf(out, "  Stage:      %s\n", task.Stage)
	fmt.Fprintf(out, "  Template:   %s\n", templateColumn(task))
	fmt.Fprintf(out, "  Created:    %s\n", task.CreatedAt.Format("2006-01-02 15:04:05"))
	if task.AudioStorageURL != "" {
		fmt.Fprintf(out, "  Storage:    %s\n", task.AudioStorageURL)
	}
	if task.AudioDurationSeconds > 0 {
		fmt.Fprintf(out, "  Duration:   %.1fs\n", task.AudioDurationSeconds)
	}
	if task.TokenCount > 0 {
		fmt.Fprintf(out, "  Tokens:     %d\n", task.TokenCount)
	}
	if task.ReportPath != "" {
		fmt.Fprintf(out, "  Report:     %s\n", task.ReportPath)
	}
	if task.FinishedAt != nil {
		fmt.Fprintf(out, "  Finished:   %s\n", task.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	if task.ErrorMessage != "" {
		fmt.Fprintf(out, "  Error:      %s\n", task.ErrorMessage)
	}
	return nil
}

func taskDisplayName(task *store.Task) string {
	name := strings.TrimSpace(task.AudioName)
	if name == "" {
		name = task.AudioSavedName
	}
	if task.AudioExt != "" && !strings.HasSuffix(name, "."+task.AudioExt) {
		return name + "." + task.AudioExt
	}
	return name
}

func templateColumn(task *store.Task) string {
	if task.TemplateID == nil {
		return "-"
	}
	return strconv.FormatInt(*task.TemplateID, 10)
}
