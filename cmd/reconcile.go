package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kasuboski/watchstate/internal/logger"
)

// reconcileCmd is a manual escape hatch alongside the scheduler: run a full
// sync-then-export cycle for one backend right now, rather than waiting for
// both jobs' next scheduled tick.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile [backend]",
	Short: "run a full sync-then-export cycle for a backend",
	Long:  `import the named backend's library, then push the canonical working set's play state back to it`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.Get()
		cfg := loadConfig(log)
		ctx := rootContext(log)

		store := openStorage(ctx, log, cfg)
		defer store.Close()

		backendName := args[0]

		if err := runSync(ctx, store, cfg, backendName); err != nil {
			log.Fatalw("reconcile: sync failed", zap.Error(err), "backend", backendName)
		}

		if err := runExport(ctx, store, cfg, backendName); err != nil {
			log.Fatalw("reconcile: export failed", zap.Error(err), "backend", backendName)
		}
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
