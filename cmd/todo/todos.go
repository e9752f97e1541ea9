package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud/db"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
	"github.com/Mschirtzinger/cloudtodo/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add [title]",
	GroupID: "todos",
	Short:   "Add a todo",
	Long: `Add a todo to the local list.

Without a title on an interactive terminal, a form asks for the title,
details and whether to publish the item right away.

Examples:
  todo add "Buy milk"
  todo add "Plan trip" --details "Book flights first" --publish
  todo add`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		details, _ := cmd.Flags().GetString("details")
		publishNow, _ := cmd.Flags().GetBool("publish")

		var title string
		if len(args) == 1 {
			title = args[0]
		} else {
			if !ui.IsTerminal(os.Stdin) {
				fmt.Fprintf(os.Stderr, "Error: a title is required when stdin is not a terminal\n")
				os.Exit(1)
			}
			var err error
			title, details, publishNow, err = promptTodo(details, publishNow)
			if err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					fmt.Println("Cancelled")
					return
				}
				fmt.Fprintf(os.Stderr, "Error reading form: %v\n", err)
				os.Exit(1)
			}
		}

		item := schema.NewTodo(strings.TrimSpace(title), strings.TrimSpace(details))
		if err := item.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		a := mustLocal()
		if err := a.db.UpsertTodo(item); err != nil {
			a.Close()
			fmt.Fprintf(os.Stderr, "Error saving todo: %v\n", err)
			os.Exit(1)
		}
		a.Close()

		fmt.Printf("%s Added %s %s\n", ui.RenderPass("✓"), ui.RenderMuted(shortID(item.ID)), item.Title)

		if publishNow {
			publishItems(cmd.Context(), []string{item.ID})
		}
	},
}

// promptTodo asks for a todo with an interactive form.
func promptTodo(details string, publishNow bool) (string, string, bool, error) {
	var title string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Value(&title).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("title is required")
					}
					return nil
				}),
			huh.NewText().
				Title("Details").
				Value(&details),
			huh.NewConfirm().
				Title("Publish to the shared list?").
				Value(&publishNow),
		),
	)
	if err := form.Run(); err != nil {
		return "", "", false, err
	}
	return title, details, publishNow, nil
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	GroupID: "todos",
	Short:   "List your todos",
	Long: `List local todos, newest first.

--since accepts natural language as well as dates:
  todo list --since "last week"
  todo list --since yesterday
  todo list --since 2026-01-31`,
	Run: func(cmd *cobra.Command, args []string) {
		showDone, _ := cmd.Flags().GetBool("all")
		onlyPublished, _ := cmd.Flags().GetBool("published")
		since, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := db.TodoFilter{Limit: limit}
		if !showDone {
			filter.Done = boolPtr(false)
		}
		if onlyPublished {
			filter.Published = boolPtr(true)
		}
		if since != "" {
			t, err := parseSince(since, time.Now())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			filter.Since = t
		}

		a := mustLocal()
		defer a.Close()

		items, err := a.db.ListTodos(cmd.Context(), filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing todos: %v\n", err)
			os.Exit(1)
		}
		if len(items) == 0 {
			fmt.Printf("%s No todos\n", ui.RenderMuted("○"))
			return
		}

		titleWidth := max(20, ui.TerminalWidth(80)-40)
		table := &ui.Table{Headers: []string{"", "ID", "TITLE", "CREATED", "SHARED"}}
		for _, item := range items {
			shared := ""
			if item.Published {
				shared = ui.RenderAccent("●")
			}
			table.Rows = append(table.Rows, []string{
				ui.Checkbox(item.Done),
				shortID(item.ID),
				ui.Truncate(item.Title, titleWidth),
				item.CreateDate.Local().Format("2006-01-02"),
				shared,
			})
		}
		table.Render(os.Stdout)
	},
}

// parseSince parses an absolute date or a natural-language expression
// relative to now.
func parseSince(s string, now time.Time) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand %q as a date", s)
	}
	return r.Time, nil
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	GroupID: "todos",
	Short:   "Show a todo",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustLocal()
		defer a.Close()

		item := a.findTodo(cmd.Context(), args[0])

		var b strings.Builder
		fmt.Fprintf(&b, "%s %s\n\n", ui.Checkbox(item.Done), ui.RenderAccent(item.Title))
		if item.Details != "" {
			fmt.Fprintf(&b, "%s\n\n", item.Details)
		}
		fmt.Fprintf(&b, "ID:        %s\n", item.ID)
		fmt.Fprintf(&b, "Created:   %s\n", item.CreateDate.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(&b, "Updated:   %s\n", item.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Fprintf(&b, "Published: %v", item.Published)
		fmt.Println(ui.RenderBox(b.String()))
	},
}

var doneCmd = &cobra.Command{
	Use:     "done <id>...",
	GroupID: "todos",
	Short:   "Mark todos as done",
	Long: `Mark todos as done, or not done with --undo.

Published todos are republished so the shared copy follows.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		undo, _ := cmd.Flags().GetBool("undo")
		ctx := cmd.Context()

		a := mustLocal()
		var republish []string
		for _, arg := range args {
			item := a.findTodo(ctx, arg)
			item.Done = !undo
			item.UpdatedAt = time.Now().UTC()
			if err := a.db.UpsertTodoContext(ctx, item); err != nil {
				fmt.Fprintf(os.Stderr, "Error updating %s: %v\n", shortID(item.ID), err)
				os.Exit(1)
			}
			fmt.Printf("%s %s %s\n", ui.RenderPass("✓"), ui.Checkbox(item.Done), item.Title)
			if item.Published {
				republish = append(republish, item.ID)
			}
		}
		a.Close()

		if len(republish) > 0 {
			publishItems(ctx, republish)
		}
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <id>...",
	GroupID: "todos",
	Short:   "Delete todos",
	Long: `Delete todos from the local list.

Published todos are unpublished first; a todo whose shared copy cannot be
removed is kept.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		local := mustLocal()
		var items []*schema.TodoItem
		needRemote := false
		for _, arg := range args {
			item := local.findTodo(ctx, arg)
			items = append(items, item)
			needRemote = needRemote || item.Published
		}
		local.Close()

		var a *app
		if needRemote {
			a = mustRemote(ctx)
		} else {
			a = mustLocal()
		}
		defer a.Close()

		failed := false
		for _, item := range items {
			if item.Published {
				if _, err := a.coord.Unpublish(ctx, item).Wait(ctx); err != nil {
					fmt.Fprintf(os.Stderr, "%s Keeping %s: %v\n", ui.RenderFail("✗"), shortID(item.ID), err)
					failed = true
					continue
				}
			}
			if err := a.db.DeleteTodoContext(ctx, item.ID); err != nil {
				fmt.Fprintf(os.Stderr, "Error deleting %s: %v\n", shortID(item.ID), err)
				failed = true
				continue
			}
			fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), item.Title)
		}
		if failed {
			a.Close()
			os.Exit(1)
		}
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func boolPtr(b bool) *bool { return &b }

func init() {
	addCmd.Flags().StringP("details", "d", "", "details for the todo")
	addCmd.Flags().BoolP("publish", "p", false, "publish the todo after adding it")

	listCmd.Flags().BoolP("all", "a", false, "include done todos")
	listCmd.Flags().Bool("published", false, "only published todos")
	listCmd.Flags().String("since", "", "only todos created since this date or expression")
	listCmd.Flags().IntP("limit", "n", 0, "maximum number of todos")

	doneCmd.Flags().Bool("undo", false, "mark as not done")

	rootCmd.AddCommand(addCmd, listCmd, showCmd, doneCmd, rmCmd)
}
