package cli

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fieldline/workstate/internal/clock"
	"github.com/fieldline/workstate/internal/schema"
)

// defaultCmd prints the default state for a fresh project.
var defaultCmd = &cobra.Command{
	Use:   "default",
	Short: "Print the default workspace state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sch := schema.Analysis(&clock.RealClock{}, uuid.NewString)
		state := sch.GenerateDefault()

		if jsonOutput {
			return outputJSON(state)
		}
		printState(state)
		return nil
	},
}
