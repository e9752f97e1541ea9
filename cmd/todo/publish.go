package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/coordinator"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/db"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/publish"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
	"github.com/Mschirtzinger/cloudtodo/internal/ui"
)

var publishCmd = &cobra.Command{
	Use:     "publish <id>...",
	GroupID: "sync",
	Short:   "Share todos on the public list",
	Long: `Publish todos to the shared record store.

Publishing creates the item's remote record or updates it in place.
Fields on the remote record that this version does not know about are
kept. Operations on the same todo run one at a time, in order.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		publishItems(cmd.Context(), args)
	},
}

var unpublishCmd = &cobra.Command{
	Use:     "unpublish <id>...",
	GroupID: "sync",
	Short:   "Remove todos from the public list",
	Long: `Delete the remote records of todos. The local todos are kept.

Unpublishing a todo that has no remote record succeeds.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := mustRemote(ctx)
		defer a.Close()
		exitIfSignedOut(a)

		items := findAll(ctx, a, args)
		futures := make([]*coordinator.Future[publish.Deleted], len(items))
		for i, item := range items {
			futures[i] = a.coord.Unpublish(ctx, item)
		}

		failed := false
		for i, f := range futures {
			item := items[i]
			if _, err := f.Wait(ctx); err != nil {
				reportFailure("unpublish", item, err)
				failed = true
				continue
			}
			if err := a.db.SetPublished(ctx, item.ID, false); err != nil {
				fmt.Fprintf(os.Stderr, "Error updating %s: %v\n", shortID(item.ID), err)
				failed = true
				continue
			}
			fmt.Printf("%s Unpublished %s\n", ui.RenderPass("✓"), item.Title)
		}
		if failed {
			a.Close()
			os.Exit(1)
		}
	},
}

// publishItems publishes the todos named by ids and records the publish
// intent of those that succeed. It exits non-zero if any fail.
func publishItems(ctx context.Context, ids []string) {
	a := mustRemote(ctx)
	defer a.Close()
	exitIfSignedOut(a)

	items := findAll(ctx, a, ids)
	futures := make([]*coordinator.Future[*schema.Record], len(items))
	for i, item := range items {
		futures[i] = a.coord.Publish(ctx, item)
	}

	failed := false
	for i, f := range futures {
		item := items[i]
		rec, err := f.Wait(ctx)
		if err != nil {
			reportFailure("publish", item, err)
			failed = true
			continue
		}
		if err := a.db.SetPublished(ctx, item.ID, true); err != nil {
			fmt.Fprintf(os.Stderr, "Error updating %s: %v\n", shortID(item.ID), err)
			failed = true
			continue
		}
		fmt.Printf("%s Published %s %s\n", ui.RenderPass("✓"), item.Title,
			ui.RenderMuted("(modified "+rec.ModifiedAt.Local().Format("15:04:05")+")"))
	}
	if failed {
		a.Close()
		os.Exit(1)
	}
}

var statusCmd = &cobra.Command{
	Use:     "status [id]...",
	GroupID: "sync",
	Short:   "Compare local publish intent with the remote store",
	Long: `Check whether todos have a remote record.

Without ids, every todo marked as published is checked. Todos whose
remote presence disagrees with the local flag are flagged; run publish or
unpublish to fix them.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := mustRemote(ctx)
		defer a.Close()

		var items []*schema.TodoItem
		if len(args) > 0 {
			items = findAll(ctx, a, args)
		} else {
			listed, err := a.db.ListTodos(ctx, db.TodoFilter{Published: boolPtr(true)})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error listing todos: %v\n", err)
				os.Exit(1)
			}
			items = listed
		}
		if len(items) == 0 {
			fmt.Printf("%s No published todos\n", ui.RenderMuted("○"))
			return
		}

		futures := make([]*coordinator.Future[bool], len(items))
		for i, item := range items {
			futures[i] = a.coord.IsPublished(ctx, item)
		}

		table := &ui.Table{Headers: []string{"ID", "TITLE", "LOCAL", "REMOTE", ""}}
		drift := 0
		for i, f := range futures {
			item := items[i]
			remoteCol, note := "", ""
			present, err := f.Wait(ctx)
			switch {
			case err != nil:
				remoteCol = ui.RenderFail("error")
				note = err.Error()
			case present != item.Published:
				remoteCol = yesNo(present)
				note = ui.RenderWarn("out of sync")
				drift++
			default:
				remoteCol = yesNo(present)
			}
			table.Rows = append(table.Rows, []string{
				shortID(item.ID),
				ui.Truncate(item.Title, 40),
				yesNo(item.Published),
				remoteCol,
				note,
			})
		}
		table.Render(os.Stdout)

		if drift > 0 {
			fmt.Printf("\n%s %d todo(s) out of sync\n", ui.RenderWarn("⚠"), drift)
		}
	},
}

func findAll(ctx context.Context, a *app, ids []string) []*schema.TodoItem {
	items := make([]*schema.TodoItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, a.findTodo(ctx, id))
	}
	return items
}

func exitIfSignedOut(a *app) {
	if err := a.requireAccount(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		a.Close()
		os.Exit(1)
	}
}

func reportFailure(op string, item *schema.TodoItem, err error) {
	hint := ""
	if cloud.IsRetryable(err) {
		hint = ui.RenderMuted(" (retry later)")
	}
	fmt.Fprintf(os.Stderr, "%s Failed to %s %s: %v%s\n", ui.RenderFail("✗"), op, item.Title, err, hint)
}

func yesNo(b bool) string {
	if b {
		return ui.RenderPass("yes")
	}
	return ui.RenderMuted("no")
}

func init() {
	rootCmd.AddCommand(publishCmd, unpublishCmd, statusCmd)
}
