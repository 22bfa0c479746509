package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/getmockd/nettap/pkg/artifacts"
	"github.com/getmockd/nettap/pkg/config"
	"github.com/getmockd/nettap/pkg/logging"
	"github.com/spf13/cobra"
)

var (
	// Persistent flags available to all subcommands
	configPath string
	dataDir    string
	logLevel   string
	logFormat  string
	logFile    string
	jsonOutput bool

	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nettap",
	Short: "nettap captures the HTTP traffic of a Go client",
	Long: `nettap records every request and response that goes through an instrumented
http.Client: headers, bodies, timings and failures.

Configuration can be provided via flags, NETTAP_* environment variables, or a
YAML/JSON configuration file passed with --config.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML or JSON config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for the session log and scratch files (default: user cache dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text, json")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write JSON logs to this file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output command results in JSON format")
}

// loadConfig resolves the effective configuration: defaults, then the
// config file, then the environment, then command line flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	return cfg, cfg.Validate()
}

// newLogger builds the command logger. Console output goes to w; with
// --log-file a JSON copy is appended to that file as well. The returned
// closer releases the file.
func newLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, func() error, error) {
	level := logging.ParseLevel(cfg.Level)
	console := logging.Handler(logging.Config{
		Level:  level,
		Format: logging.ParseFormat(cfg.Format),
		Output: w,
	})
	if logFile == "" {
		return slog.New(console), func() error { return nil }, nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	file := logging.Handler(logging.Config{
		Level:  level,
		Format: logging.FormatJSON,
		Output: f,
	})
	return slog.New(logging.NewMultiHandler(console, file)), f.Close, nil
}

func newSink(cfg config.Config, logger *slog.Logger) (*artifacts.Sink, error) {
	return artifacts.New(artifacts.Options{
		Dir:        cfg.DataDir,
		Prefix:     cfg.ScratchPrefix,
		SessionLog: cfg.SessionLog,
		SaveBodies: cfg.SaveBodies,
		Logger:     logger,
	})
}
