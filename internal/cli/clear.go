package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// clearCmd resets the stored workspace state.
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Reset the workspace state to its default",
	Long: `Write the canonical empty state through the persistence engine. The next
load yields a fresh default workspace; prior tabs and parameters are gone.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := context.Background()
		if _, err := eng.InitialLoad(ctx); err != nil {
			return err
		}

		if err := eng.Clear(); err != nil {
			return err
		}
		if err := eng.Close(ctx); err != nil {
			return err
		}

		PrintSuccess("Cleared workspace state")
		return nil
	},
}
