package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kasuboski/watchstate/internal/logger"
)

// exportCmd is the manual escape hatch alongside the scheduler's periodic
// Export jobs: push the canonical working set's play state to one backend
// now, without waiting for the next tick.
var exportCmd = &cobra.Command{
	Use:   "export [backend]",
	Short: "push play state to a backend",
	Long:  `run a one-shot export of the canonical working set's play state to the named backend`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.Get()
		cfg := loadConfig(log)
		ctx := rootContext(log)

		store := openStorage(ctx, log, cfg)
		defer store.Close()

		if err := runExport(ctx, store, cfg, args[0]); err != nil {
			log.Fatalw("export failed", zap.Error(err), "backend", args[0])
		}
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
