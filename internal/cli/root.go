package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	jsonOutput bool
	projectID  int64
)

// rootCmd is the root command for workstate.
var rootCmd = &cobra.Command{
	Use:     "workstate",
	Version: "dev",
	Short:   "Per-project workspace state synchronization",
	Long: `workstate persists per-project workspace state (open tabs, run parameters,
view state) against a backend API, with a local fallback store, debounced
writes, and schema migration.

Bind a project with --project; without it, state lives in the local store only.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// SetVersion overrides the version reported by the CLI.
func SetVersion(v string) {
	if v == "" {
		return
	}
	rootCmd.Version = v
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().Int64Var(&projectID, "project", 0, "Project id to bind to (0 = local-only mode)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the workstate CLI version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintln(os.Stdout, rootCmd.Version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(defaultCmd)
}

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}
