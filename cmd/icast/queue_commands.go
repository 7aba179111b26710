package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"icast/internal/config"
	"icast/internal/store"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the outbox",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var includeProcessed bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List outbox events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				events, err := st.ListEvents(cmd.Context())
				if err != nil {
					return err
				}

				rows := make([][]string, 0, len(events))
				for _, event := range events {
					if event.Processed && !includeProcessed {
						continue
					}
					rows = append(rows, []string{
						strconv.FormatInt(event.ID, 10),
						strconv.FormatInt(event.TaskID, 10),
						string(event.Kind),
						eventState(event),
						event.CreatedAt.Format("2006-01-02 15:04:05"),
						event.Error,
					})
				}
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Outbox is empty")
					return nil
				}

				table := renderTable(
					[]string{"ID", "Task", "Kind", "State", "Created", "Error"},
					rows,
					[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&includeProcessed, "all", false, "Include processed events")
	return cmd
}

func eventState(event *store.Event) string {
	switch {
	case event.Processed:
		return "processed"
	case event.ClaimedBy != "":
		return "claimed"
	default:
		return "pending"
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <taskID...>",
		Short: "Retry failed tasks from their last completed stage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid task id %q", arg)
				}
				ids = append(ids, id)
			}

			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				out := cmd.OutOrStdout()
				for _, id := range ids {
					kinds, err := st.RetryTask(cmd.Context(), id)
					if err != nil {
						fmt.Fprintf(out, "Task %d: %v\n", id, err)
						continue
					}
					names := make([]string, len(kinds))
					for i, kind := range kinds {
						names[i] = string(kind)
					}
					fmt.Fprintf(out, "Task %d reset for retry (%s)\n", id, strings.Join(names, ", "))
				}
				return nil
			})
		},
	}
}
