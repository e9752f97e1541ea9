package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud/identity"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/reconcile"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/remote"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/schema"
	"github.com/Mschirtzinger/cloudtodo/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Refresh the local mirror of the public list",
	Long: `Reconcile the local mirror with the shared record store.

A pass fetches every public record in scope, then inserts, updates and
deletes mirror rows in one transaction. Your own records are not
mirrored. If the fetch fails the mirror is left untouched.

By default the scopes from sync.scopes in the config are reconciled.
--creator limits the pass to one person's records.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		creator, _ := cmd.Flags().GetString("creator")

		scopes, err := syncScopes(creator)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		a := mustRemote(ctx)
		defer a.Close()

		fmt.Printf("%s Syncing %d scope(s)...\n", ui.RenderAccent("🔄"), len(scopes))
		start := time.Now()

		results, err := reconcileAll(ctx, a, scopes)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s Sync failed: %v\n", ui.RenderFail("✗"), err)
			a.Close()
			os.Exit(1)
		}

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		for _, r := range results {
			fmt.Printf("   %s: %d items (+%d ~%d -%d)\n", r.Scope, len(r.Items), r.Inserted, r.Updated, r.Deleted)
			if r.IdentityErr != nil {
				fmt.Printf("   %s names unavailable: %v\n", ui.RenderWarn("⚠"), r.IdentityErr)
			}
		}
	},
}

// syncScopes returns the scope for creator, or the configured scopes.
func syncScopes(creator string) ([]remote.Scope, error) {
	if creator != "" {
		return []remote.Scope{remote.CreatorScope(creator)}, nil
	}
	return cfg.ReconcileScopes()
}

// reconcileAll queues a pass per scope and waits for all of them. The
// first failure is returned; other passes still run to completion.
func reconcileAll(ctx context.Context, a *app, scopes []remote.Scope) ([]*reconcile.Result, error) {
	results := make([]*reconcile.Result, len(scopes))
	g, gctx := errgroup.WithContext(ctx)
	for i, scope := range scopes {
		f := a.coord.Reconcile(ctx, scope)
		g.Go(func() error {
			r, err := f.Wait(gctx)
			if err != nil {
				return fmt.Errorf("%s: %w", scope, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

var publicCmd = &cobra.Command{
	Use:     "public",
	GroupID: "sync",
	Short:   "List todos other people have shared",
	Long: `List the local mirror of public todos with their creators' names.

--refresh reconciles first. --creator limits the list to one person.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		refresh, _ := cmd.Flags().GetBool("refresh")
		creator, _ := cmd.Flags().GetString("creator")

		a := mustRemote(ctx)
		defer a.Close()

		var (
			items  []*schema.MirrorItem
			idents map[string]identity.Identity
		)
		if refresh {
			scope := remote.AllRecords()
			if creator != "" {
				scope = remote.CreatorScope(creator)
			}
			r, err := a.coord.Reconcile(ctx, scope).Wait(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s Refresh failed, showing the last mirror: %v\n", ui.RenderWarn("⚠"), err)
			} else {
				items, idents = r.Items, r.Identities
			}
		}

		if items == nil {
			var err error
			items, err = a.db.ListMirror(ctx, creator)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading mirror: %v\n", err)
				os.Exit(1)
			}
			idents = resolveCreators(ctx, a, items)
		}

		if len(items) == 0 {
			fmt.Printf("%s Nothing shared yet\n", ui.RenderMuted("○"))
			return
		}

		titleWidth := max(20, ui.TerminalWidth(80)-50)
		table := &ui.Table{Headers: []string{"", "TITLE", "BY", "MODIFIED"}}
		for _, item := range items {
			table.Rows = append(table.Rows, []string{
				ui.Checkbox(item.Done),
				ui.Truncate(item.Title, titleWidth),
				ui.Truncate(identity.Label(item.CreatorID, idents), 24),
				item.ModifiedAt.Local().Format("2006-01-02 15:04"),
			})
		}
		table.Render(os.Stdout)
	},
}

// resolveCreators looks up display names for the creators of items. A
// failure is reported and leaves raw ids in place.
func resolveCreators(ctx context.Context, a *app, items []*schema.MirrorItem) map[string]identity.Identity {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.CreatorID)
	}
	idents, err := a.resolver.ResolveBatch(ctx, ids)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s Names unavailable: %v\n", ui.RenderWarn("⚠"), err)
		return map[string]identity.Identity{}
	}
	return idents
}

var peopleCmd = &cobra.Command{
	Use:     "people",
	GroupID: "sync",
	Short:   "List people related to your account",
	Long: `List the people the identity directory knows about, sorted by name.

Add someone to the directory with --add:
  todo people --add _8f3c --given Ada --family Lovelace`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		addID, _ := cmd.Flags().GetString("add")

		a := mustRemote(ctx)
		defer a.Close()

		if addID != "" {
			given, _ := cmd.Flags().GetString("given")
			family, _ := cmd.Flags().GetString("family")
			nick, _ := cmd.Flags().GetString("nickname")
			ident := identity.Identity{UserID: addID, GivenName: given, FamilyName: family, Nickname: nick}
			if err := a.directory.Add(ident); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if err := a.directory.Save(); err != nil {
				fmt.Fprintf(os.Stderr, "Error saving directory: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s Added %s to %s\n", ui.RenderPass("✓"), ident.DisplayName(), cfg.Identity.Directory)
		}

		people, err := a.resolver.ResolveAll(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing people: %v\n", err)
			os.Exit(1)
		}
		if !a.session.Available() {
			fmt.Printf("%s Signed out: set account.id to see related people\n", ui.RenderWarn("⚠"))
			return
		}
		if len(people) == 0 {
			fmt.Printf("%s No people in %s\n", ui.RenderMuted("○"), cfg.Identity.Directory)
			return
		}

		table := &ui.Table{Headers: []string{"NAME", "ID"}}
		for _, p := range people {
			table.Rows = append(table.Rows, []string{p.DisplayName(), p.UserID})
		}
		table.Render(os.Stdout)
	},
}

func init() {
	syncCmd.Flags().String("creator", "", "only reconcile records created by this id")

	publicCmd.Flags().BoolP("refresh", "r", false, "reconcile before listing")
	publicCmd.Flags().String("creator", "", "only show records created by this id")

	peopleCmd.Flags().String("add", "", "add a person with this id to the directory")
	peopleCmd.Flags().String("given", "", "given name for --add")
	peopleCmd.Flags().String("family", "", "family name for --add")
	peopleCmd.Flags().String("nickname", "", "nickname for --add")

	rootCmd.AddCommand(syncCmd, publicCmd, peopleCmd)
}
