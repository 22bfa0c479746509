package cli

import (
	"fmt"

	"github.com/getmockd/nettap/pkg/cli/internal/output"
	"github.com/getmockd/nettap/pkg/nettap"
	"github.com/spf13/cobra"
)

// CleanOutput represents JSON output format
type CleanOutput struct {
	Dir        string `json:"dir"`
	Prefix     string `json:"prefix"`
	SessionLog string `json:"sessionLog"`
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove session logs and scratch files left by earlier runs",
	Long: `Clean deletes every file in the data directory whose name starts with the
scratch prefix, plus the session log. Other files are left alone.`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	sink, err := newSink(cfg, logger)
	if err != nil {
		return err
	}
	ctrl, err := nettap.New(nettap.Options{Sink: sink, Config: &cfg, Logger: logger, Version: Version})
	if err != nil {
		return err
	}
	ctrl.ClearOldData(cmd.Context())

	out := CleanOutput{Dir: sink.Dir(), Prefix: cfg.ScratchPrefix, SessionLog: sink.SessionLogPath()}
	if jsonOutput {
		return output.JSON(cmd.OutOrStdout(), out)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s* and %s\n", out.Prefix, out.SessionLog)
	return nil
}
