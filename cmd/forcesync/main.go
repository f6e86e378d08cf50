package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	gojson "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crestdata/forcesync/internal/pipeline"
	"github.com/crestdata/forcesync/pkg/config"
	"github.com/crestdata/forcesync/pkg/connector/core"
	"github.com/crestdata/forcesync/pkg/connector/registry"
	"github.com/crestdata/forcesync/pkg/logger"

	// Import all available connectors to register them
	_ "github.com/crestdata/forcesync/pkg/connector/source/salesforce"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "forcesync",
		Short: "forcesync - Salesforce bulk/REST hybrid sync engine",
		Long: `forcesync replicates Salesforce entities incrementally, choosing between
the Bulk API 2.0 and the REST query API per entity and emitting records
and state as JSON lines on stdout.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("forcesync v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available source connectors",
		Run: func(cmd *cobra.Command, args []string) {
			for _, source := range registry.ListSources() {
				fmt.Printf("  - %s\n", source)
			}
		},
	})

	var configFile, stateFile string

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Verify credentials and API reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSource(cmd.Context(), configFile, func(ctx context.Context, _ *config.SyncConfig, source core.Source) error {
				if err := source.Check(ctx); err != nil {
					return err
				}
				fmt.Println("Connection check passed")
				return nil
			})
		},
	}
	checkCmd.Flags().StringVarP(&configFile, "config", "c", "", "Sync configuration file (YAML)")
	checkCmd.MarkFlagRequired("config")
	root.AddCommand(checkCmd)

	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "List syncable entities and their schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSource(cmd.Context(), configFile, func(ctx context.Context, _ *config.SyncConfig, source core.Source) error {
				streams, err := source.Discover(ctx)
				if err != nil {
					return err
				}
				enc := gojson.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(streams)
			})
		},
	}
	discoverCmd.Flags().StringVarP(&configFile, "config", "c", "", "Sync configuration file (YAML)")
	discoverCmd.MarkFlagRequired("config")
	root.AddCommand(discoverCmd)

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a sync",
		Long: `Run a sync over the configured catalog. Records and state checkpoints are
written to stdout as JSON lines; logs go to stderr.

Example:
  forcesync sync --config sync.yaml --state state.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSource(cmd.Context(), configFile, func(ctx context.Context, cfg *config.SyncConfig, source core.Source) error {
				orch := pipeline.NewOrchestrator(cfg, core.NewEmitter(os.Stdout))

				if stateFile != "" {
					state, err := loadState(stateFile)
					if err != nil {
						return err
					}
					orch.SetState(state)
				}

				result, err := orch.Run(ctx, source)
				if err != nil {
					return err
				}
				logger.Get().Info("sync result",
					zap.Int64("records", result.Records),
					zap.Bool("rate_limited", result.RateLimited))
				return nil
			})
		},
	}
	syncCmd.Flags().StringVarP(&configFile, "config", "c", "", "Sync configuration file (YAML)")
	syncCmd.Flags().StringVarP(&stateFile, "state", "s", "", "Saved state from a previous run (JSON)")
	syncCmd.MarkFlagRequired("config")
	root.AddCommand(syncCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withSource loads configuration, initializes logging and hands a built
// source to fn.
func withSource(ctx context.Context, configFile string, fn func(context.Context, *config.SyncConfig, core.Source) error) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: "json",
	}); err != nil {
		return err
	}
	defer logger.Sync()

	source, err := registry.CreateSource(ctx, "salesforce", cfg)
	if err != nil {
		return err
	}

	return fn(ctx, cfg, source)
}

// loadState reads saved cursors from a previous run.
func loadState(path string) (map[string]core.StreamState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	var state map[string]core.StreamState
	if err := gojson.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return state, nil
}
