package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kasuboski/watchstate/internal/logger"
)

// syncCmd is the manual escape hatch alongside the scheduler's periodic Sync
// jobs: import one backend's library into the canonical working set now,
// without waiting for the next tick.
var syncCmd = &cobra.Command{
	Use:   "sync [backend]",
	Short: "import a backend's current play state",
	Long:  `run a one-shot import of the named backend's library into the canonical working set`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.Get()
		cfg := loadConfig(log)
		ctx := rootContext(log)

		store := openStorage(ctx, log, cfg)
		defer store.Close()

		if err := runSync(ctx, store, cfg, args[0]); err != nil {
			log.Fatalw("sync failed", zap.Error(err), "backend", args[0])
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
