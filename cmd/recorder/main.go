// Command xdfrecorder is the CLI entrypoint: load configuration, resolve
// streams, and run the RecordingEngine until interrupted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/xdfrecorder/internal/config"
	"github.com/audiolibrelab/xdfrecorder/internal/engine"
	"github.com/audiolibrelab/xdfrecorder/internal/streamsource"
)

var (
	cfgFile      string
	outputPath   string
	fileType     string
	queries      []string
	watchQueries []string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "xdfrecorder",
	Short: "Record live data streams to an XDF container or CSV files",
	Long: `xdfrecorder discovers live data streams, subscribes to each, and
persists their samples, timestamps, metadata, and clock-synchronization
measurements into either a single binary XDF container or a set of
per-stream CSV files.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel)
		return nil
	},
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Resolve the configured streams and record until interrupted",
	RunE:  runRecord,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (optional; flags override file values)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug")

	recordCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output path (overrides config)")
	recordCmd.Flags().StringVar(&fileType, "file-type", "", "xdf or csv (overrides config)")
	recordCmd.Flags().StringArrayVarP(&queries, "query", "q", nil, "stream query resolved once at startup (repeatable)")
	recordCmd.Flags().StringArrayVarP(&watchQueries, "watch", "w", nil, "stream query watched continuously for late-joining streams (repeatable)")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(configCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}

func setupLogging(level int) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(handler))
}

func loadConfig() (*config.RecorderConfig, error) {
	var cfg config.RecorderConfig
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
	} else {
		cfg = config.Default()
	}

	if outputPath != "" {
		cfg.OutputPath = outputPath
	}
	if fileType != "" {
		cfg.FileType = config.FileType(fileType)
	}
	if len(queries) > 0 {
		cfg.InitialQueries = queries
	}
	if len(watchQueries) > 0 {
		cfg.WatchQueries = watchQueries
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// newStreamSource wires the StreamSource collaborator (spec §6.4) that
// actually resolves and pulls from live streams. That wire protocol is an
// explicit external collaborator out of this system's scope (spec §1); a
// deployment wires a concrete implementation here.
var newStreamSource = func() streamsource.StreamSource {
	return streamsource.NewFakeSource()
}

func runRecord(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := newStreamSource()
	rec, err := engine.New(ctx, cfg, source, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to start recording engine: %w", err)
	}

	slog.Info("recording started", "output", cfg.OutputPath, "file_type", cfg.FileType)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("stopping recording...")
	if err := rec.Close(); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	slog.Info("recording stopped cleanly")
	return nil
}
