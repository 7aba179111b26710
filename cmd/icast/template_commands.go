package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"icast/internal/config"
	"icast/internal/store"
	"icast/internal/templates"
)

func newTemplateCommand(ctx *commandContext) *cobra.Command {
	templateCmd := &cobra.Command{
		Use:   "template",
		Short: "Manage question-set templates",
	}

	templateCmd.AddCommand(newTemplateAddCommand(ctx))
	templateCmd.AddCommand(newTemplateListCommand(ctx))
	templateCmd.AddCommand(newTemplateSelectCommand(ctx))

	return templateCmd
}

func newTemplateAddCommand(ctx *commandContext) *cobra.Command {
	var title string
	var preamble string

	cmd := &cobra.Command{
		Use:   "add <questions.json>",
		Short: "Create a template from a question-set JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read questions file: %w", err)
			}
			questions, err := templates.ParseQuestions(string(raw))
			if err != nil {
				return err
			}
			if len(questions) == 0 {
				return fmt.Errorf("questions file %s contains no questions", args[0])
			}
			encoded, err := templates.EncodeQuestions(questions)
			if err != nil {
				return err
			}

			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				row, err := st.CreateTemplate(cmd.Context(), title, preamble, encoded)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created template #%d (%s, %d questions)\n", row.ID, row.Title, len(questions))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Template title")
	cmd.Flags().StringVar(&preamble, "preamble", "", "Prompt preamble placed before the question list")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newTemplateListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				rows, err := st.ListTemplates(cmd.Context())
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No templates")
					return nil
				}

				tableRows := make([][]string, 0, len(rows))
				for _, row := range rows {
					questionCount := "?"
					if questions, err := templates.ParseQuestions(row.QuestionsJSON); err == nil {
						questionCount = strconv.Itoa(len(questions))
					}
					tableRows = append(tableRows, []string{
						strconv.FormatInt(row.ID, 10),
						row.Title,
						questionCount,
						row.CreatedAt.Format("2006-01-02 15:04"),
					})
				}
				table := renderTable(
					[]string{"ID", "Title", "Questions", "Created"},
					tableRows,
					[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}

func newTemplateSelectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "select <taskID> <templateID>",
		Short: "Bind a template to a task for answer extraction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			templateID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid template id %q", args[1])
			}

			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				row, err := st.GetTemplate(cmd.Context(), templateID)
				if err != nil {
					return err
				}
				if row == nil {
					return fmt.Errorf("template %d not found", templateID)
				}
				if err := st.BindTemplate(cmd.Context(), taskID, templateID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Bound template #%d (%s) to task #%d\n", templateID, row.Title, taskID)
				return nil
			})
		},
	}
}
