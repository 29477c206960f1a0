package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// showCmd loads and prints the current workspace state.
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Load and print the current workspace state",
	Long: `Load the workspace state for the bound project (or the local store in
local-only mode), applying validation and migration, and print it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := context.Background()
		state, err := eng.InitialLoad(ctx)
		if err != nil {
			return err
		}
		defer func() {
			_ = eng.Close(ctx)
		}()

		if jsonOutput {
			return outputJSON(state)
		}

		printState(state)
		return nil
	},
}
