package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"taskboard/board"
	"taskboard/domain"
)

func newListCmd(app *App) *cobra.Command {
	var (
		filter string
		sortBy string
		status string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show the board as a table",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := board.ParseSortMode(sortBy)
			if err != nil {
				return err
			}
			var only domain.Status
			if status != "" {
				if only, err = domain.ParseStatus(status); err != nil {
					return err
				}
			}
			ctrl, err := app.controller(cmd)
			if err != nil {
				return err
			}
			ctrl.SetFilter(filter)
			ctrl.SetSort(mode)

			var tasks []domain.Task
			for _, col := range ctrl.Columns() {
				if only != "" && col.Status != only {
					continue
				}
				tasks = append(tasks, col.Tasks...)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), tasks)
			}
			writeTable(cmd.OutOrStdout(), tasks)
			return nil
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "only tasks whose title or description contains this text")
	cmd.Flags().StringVarP(&sortBy, "sort", "s", "none", "sort each column: none, title or date")
	cmd.Flags().StringVar(&status, "status", "", "only this column: todo, inProgress or done")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func writeJSON(w io.Writer, tasks []domain.Task) error {
	if tasks == nil {
		tasks = []domain.Task{}
	}
	enc := sonic.ConfigStd.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(tasks)
}

func writeTable(w io.Writer, tasks []domain.Task) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "STATUS", "TITLE", "DESCRIPTION", "CREATED"})
	table.SetAutoWrapText(false)
	for _, t := range tasks {
		table.Append([]string{
			shortID(t.ID),
			t.Status.Label(),
			t.Title,
			t.Description,
			t.CreatedAt.Local().Format(time.DateTime),
		})
	}
	table.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newAddCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "add <title> <description>",
		Short: "Create a task in the todo column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := app.controller(cmd)
			if err != nil {
				return err
			}
			return ctrl.SaveTask(cmd.Context(), "", args[0], args[1])
		},
	}
}

func newEditCmd(app *App) *cobra.Command {
	var title, description string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change the title or description of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("title") && !cmd.Flags().Changed("description") {
				return fmt.Errorf("nothing to change: pass --title or --description")
			}
			ctrl, err := app.controller(cmd)
			if err != nil {
				return err
			}
			task, err := resolveTask(ctrl.Snapshot(), args[0])
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("title") {
				title = task.Title
			}
			if !cmd.Flags().Changed("description") {
				description = task.Description
			}
			return ctrl.SaveTask(cmd.Context(), task.ID, title, description)
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "new title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "new description")
	return cmd
}

func newRmCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl, err := app.controller(cmd)
			if err != nil {
				return err
			}
			task, err := resolveTask(ctrl.Snapshot(), args[0])
			if err != nil {
				return err
			}
			return ctrl.DeleteTask(cmd.Context(), task.ID)
		},
	}
}

func newMoveCmd(app *App) *cobra.Command {
	var index int
	cmd := &cobra.Command{
		Use:   "move <id> <status>",
		Short: "Move a task to another column",
		Long: "Move a task to another column. --index is the position in the destination\n" +
			"column counted without the moved task; a negative index appends.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest, err := domain.ParseStatus(args[1])
			if err != nil {
				return err
			}
			ctrl, err := app.controller(cmd)
			if err != nil {
				return err
			}
			state := ctrl.Snapshot()
			task, err := resolveTask(state, args[0])
			if err != nil {
				return err
			}
			from, fromIdx, _ := state.Find(task.ID)

			rel, err := ctrl.HandleRelocation(cmd.Context(), board.DragEvent{
				TaskID:      task.ID,
				Source:      board.Location{Status: from, Index: fromIdx},
				Destination: &board.Location{Status: dest, Index: state.DropIndex(dest, index, task.ID)},
			})
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), app.cfg.Timeout+time.Second)
			defer cancel()
			_, err = rel.Wait(ctx)
			ctrl.Wait()
			return err
		},
	}
	cmd.Flags().IntVarP(&index, "index", "i", -1, "position in the destination column")
	return cmd
}

// resolveTask finds a task by id or by an unambiguous id prefix.
func resolveTask(s board.State, ref string) (domain.Task, error) {
	ref = strings.TrimSpace(ref)
	if t, ok := s.Task(ref); ok {
		return t, nil
	}
	var found []domain.Task
	for _, status := range domain.Statuses {
		for _, t := range s.Buckets[status] {
			if ref != "" && strings.HasPrefix(t.ID, ref) {
				found = append(found, t)
			}
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return domain.Task{}, &board.NotFoundError{Op: "resolve", TaskID: ref}
	}
	return domain.Task{}, fmt.Errorf("task id %q is ambiguous (%d matches)", ref, len(found))
}
