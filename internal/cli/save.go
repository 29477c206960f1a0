package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fieldline/workstate/internal/schema"
)

var saveFile string

// saveCmd validates and persists a workspace state from a file or stdin.
var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Validate and persist a workspace state",
	Long: `Read a workspace state as JSON from a file (or stdin with -), validate it
strictly, and persist it through the write scheduler. An invalid state is
rejected without being transmitted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		var err error
		if saveFile == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(saveFile)
		}
		if err != nil {
			return fmt.Errorf("failed to read state: %w", err)
		}

		state, err := schema.Decode(data)
		if err != nil {
			return err
		}

		eng, cleanup, err := newEngine()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := context.Background()
		if _, err := eng.InitialLoad(ctx); err != nil {
			return err
		}

		if err := eng.Save(state); err != nil {
			return err
		}
		if err := eng.Close(ctx); err != nil {
			return err
		}

		PrintSuccess("Saved workspace state")
		return nil
	},
}

func init() {
	saveCmd.Flags().StringVarP(&saveFile, "file", "f", "-", "File containing the state JSON (- for stdin)")
}
