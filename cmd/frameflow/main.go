package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/config"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/frame"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/logging"
)

// CLI flags
var (
	configFlag   string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "frameflow",
	Short: "Sample still frames out of video files",
	Long: `frameflow extracts JPEG frames from a video at a fixed stride over a frame
range, captures single snapshots, and reports what a video contains.

Examples:
  frameflow probe clip.mp4
  frameflow extract clip.mp4 --start 100 --end 400 --stride 10
  frameflow snapshot clip.mp4 --index 250 --output ./stills`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(probeCmd, extractCmd, snapshotCmd, enqueueCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and builds the console logger shared by every
// subcommand.
func setup() (*config.Config, *logging.Logger, *frame.FFmpeg) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	level, err := zerolog.ParseLevel(logLevelFlag)
	if err != nil {
		level = zerolog.WarnLevel
	}
	logger := logging.New(zerolog.ConsoleWriter{Out: os.Stderr}, level)

	ff := frame.NewFFmpeg(cfg.Extractor.FFmpegPath, cfg.Extractor.FFprobePath, cfg.Extractor.SeekMode)
	return cfg, logger, ff
}
