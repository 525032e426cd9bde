package cmd

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "watchstate",
	Short: "watchstate cli",
	Long:  `watchstate syncs watched/unwatched play state across Plex, Jellyfin and Emby against a canonical local database`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file")
}

const defaultJobTicker = time.Minute

func initConfig() {
	viper.SetConfigFile(cfgFile)

	viper.SetEnvPrefix("WATCHSTATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", ""))
	viper.AutomaticEnv()

	viper.SetDefault("storage.filePath", "watchstate.db")

	viper.SetDefault("mapper.ignoreDate", false)
	viper.SetDefault("mapper.dryRun", false)

	viper.SetDefault("export.allowedTimeDiff", 10*time.Second)
	viper.SetDefault("export.ignoreDate", false)
	viper.SetDefault("export.dryRun", false)

	viper.SetDefault("server.port", 8080)

	viper.SetDefault("jobs.sync", 15*defaultJobTicker)
	viper.SetDefault("jobs.export", 15*defaultJobTicker)
	viper.SetDefault("jobs.scheduleTick", defaultJobTicker)
}
