package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/Mschirtzinger/cloudtodo/internal/config"
	"github.com/Mschirtzinger/cloudtodo/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write the built-in defaults as a commented TOML file.

The file goes to --config when given, otherwise to the user config
directory. An existing file is kept unless --force is set.`,
	// the file may not exist yet, so skip loading it
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.DisableColor()
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		account, _ := cmd.Flags().GetString("account")
		backend, _ := cmd.Flags().GetString("backend")

		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}

		c := config.Default()
		c.Account.ID = account
		if backend != "" {
			c.Remote.Backend = backend
		}
		if err := c.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := config.WriteDefault(path, c, force); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		if account == "" {
			fmt.Printf("   Set account.id to publish todos\n")
		}
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file and
CLOUDTODO_* environment overrides have been applied.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("# source: %s\n", configFileLabel())
		if err := toml.NewEncoder(os.Stdout).Encode(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding config: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configInitCmd.Flags().String("account", "", "account id to sign in with")
	configInitCmd.Flags().String("backend", "", "remote backend: memory, dir or s3")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
