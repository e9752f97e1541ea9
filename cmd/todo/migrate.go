package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/cloudtodo/internal/cloud/db"
	"github.com/Mschirtzinger/cloudtodo/internal/cloud/migrate"
	"github.com/Mschirtzinger/cloudtodo/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <file.jsonl>",
	GroupID: "advanced",
	Short:   "Import todos from a JSONL file",
	Long: `Import todos from a JSONL file, one todo per line.

Todos that already exist locally are skipped unless --overwrite is set.
Imported todos are not published; run publish for the ones to share.

Examples:
  todo import backup.jsonl --dry-run
  todo import backup.jsonl --backup --overwrite`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetBool("backup")
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		a := mustLocal()
		defer a.Close()

		if dryRun {
			fmt.Printf("%s Dry run, nothing will be written\n", ui.RenderWarn("⚠"))
		}

		result, err := migrate.Import(cmd.Context(), a.db, migrate.ImportOptions{
			FromJSONL: args[0],
			DryRun:    dryRun,
			Backup:    backup,
			Overwrite: overwrite,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: import failed: %v\n", err)
			a.Close()
			os.Exit(1)
		}

		fmt.Printf("%s Imported %d, replaced %d, skipped %d\n",
			ui.RenderPass("✓"), result.Imported, result.Replaced, result.Skipped)
		if result.BackupCreated != "" {
			fmt.Printf("   Backup: %s\n", result.BackupCreated)
		}
		if len(result.Errors) > 0 {
			fmt.Fprintf(os.Stderr, "%s %d error(s):\n", ui.RenderFail("✗"), len(result.Errors))
			for _, e := range result.Errors {
				fmt.Fprintf(os.Stderr, "   %s\n", e)
			}
			a.Close()
			os.Exit(1)
		}
	},
}

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "advanced",
	Short:   "Export todos as JSONL, or the public mirror as YAML",
	Long: `Export local todos as JSONL, one todo per line.

--mirror exports the local mirror of public todos instead, as YAML with
creator names resolved where possible.

Output goes to stdout unless --output is set.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		output, _ := cmd.Flags().GetString("output")
		mirror, _ := cmd.Flags().GetBool("mirror")

		var w io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", output, err)
				os.Exit(1)
			}
			defer f.Close()
			w = f
		}

		var (
			count int
			err   error
		)
		if mirror {
			a := mustRemote(ctx)
			defer a.Close()

			items, lerr := a.db.ListMirror(ctx, "")
			if lerr != nil {
				fmt.Fprintf(os.Stderr, "Error reading mirror: %v\n", lerr)
				os.Exit(1)
			}
			count = len(items)
			err = migrate.ExportMirror(w, items, resolveCreators(ctx, a, items), time.Now().UTC())
		} else {
			a := mustLocal()
			defer a.Close()
			count, err = migrate.Export(ctx, a.db, db.TodoFilter{}, w)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: export failed: %v\n", err)
			os.Exit(1)
		}

		if output != "" {
			fmt.Printf("%s Exported %d item(s) to %s\n", ui.RenderPass("✓"), count, output)
		}
	},
}

func init() {
	importCmd.Flags().Bool("dry-run", false, "preview without writing")
	importCmd.Flags().Bool("backup", false, "keep a timestamped copy of the input file")
	importCmd.Flags().Bool("overwrite", false, "replace todos that already exist")

	exportCmd.Flags().StringP("output", "o", "", "write to this file instead of stdout")
	exportCmd.Flags().Bool("mirror", false, "export the public mirror as YAML")

	rootCmd.AddCommand(importCmd, exportCmd)
}
