package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"droidflow/engine"
)

var validateCmd = &cobra.Command{
	Use:   "validate <tasks.yaml>",
	Short: "Check a task sequence for structural errors",
	Long: `Validate loads a task sequence and checks its loop nesting without
executing anything. Exits non-zero on an unmatched LOOP or END_LOOP.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := engine.LoadSequence(args[0])
		if err != nil {
			return err
		}
		if _, err := engine.BuildJumpMap(tasks); err != nil {
			return fmt.Errorf("structure error: %w", err)
		}
		fmt.Printf("%s: %d tasks, loop structure ok\n", args[0], len(tasks))
		return nil
	},
}
