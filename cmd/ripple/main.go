package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/ripple/pkg/config"
	"github.com/cuemby/ripple/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ripple",
	Short: "Ripple - offline-first table replication for Go clients",
	Long: `Ripple keeps local tables in sync with a remote store: full and
incremental download, a durable mutation queue for offline writes, and
conflict resolution on reconnect.

This binary is a thin operational wrapper around the ripple library -
most applications embed pkg/manager directly rather than shelling out
to it.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ripple version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file (see pkg/config); flags below override its values")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format; overrides the config file")
	rootCmd.PersistentFlags().String("data-dir", "", "Local bbolt store path; overrides the config file's storePath")
	rootCmd.PersistentFlags().Int64("quota-bytes", 0, "Local storage quota ceiling in bytes; overrides the config file's quota.ceilingBytes (soft limit/target scale to 90% of it)")
	rootCmd.PersistentFlags().String("server", "", "Remote sync server gRPC address; overrides the config file's transport.address")
	rootCmd.PersistentFlags().StringSlice("table", nil, "Table to register, repeatable (name[:priority], priority defaults to medium); added on top of the config file's tables")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(tablesCmd)
}

func initLogging() {
	flags := rootCmd.PersistentFlags()
	configPath, _ := flags.GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.LogJSON, _ = flags.GetBool("log-json")
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
}
