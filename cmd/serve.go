package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kasuboski/watchstate/internal/logger"
	"github.com/kasuboski/watchstate/internal/server"
)

// serveCmd starts the HTTP status/log-viewer API and the background
// sync/export scheduler, and blocks until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the status server and background scheduler",
	Long:  `start the status/log-viewer HTTP API and run the periodic sync/export jobs`,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.Get()
		cfg := loadConfig(log)
		ctx := rootContext(log)

		store := openStorage(ctx, log, cfg)
		defer store.Close()

		sched := newScheduler(cfg, store, log)

		go func() {
			if err := sched.Run(ctx); err != nil {
				log.Errorw("scheduler stopped", zap.Error(err))
			}
		}()

		srv := server.New(log, store, sched, nil, nil)
		log.Errorw("server stopped", zap.Error(srv.Serve(cfg.Server.Port)))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
