package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evenscribe/umem/pkg/memory"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one reconciliation pass",
	Long: `Retry deletions for orphan vectors and unfinished metadata deletes,
then exit. The serve command runs this on a schedule; sweep is for
one-off cleanup.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	sweeper := memory.NewSweeper(rt.store, rt.index, rt.log.GetZerolog())
	if err := sweeper.Sweep(ctx); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "sweep completed")
	return nil
}
