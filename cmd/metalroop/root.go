package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dudu/metalroop/internal/config"
	"github.com/dudu/metalroop/internal/logging"
	"github.com/dudu/metalroop/internal/models"
)

// Version is the application version.
const Version = "0.1.0"

// GlobalOptions are the persistent flags shared by every command
type GlobalOptions struct {
	EnvFile    string
	LogLevel   string
	LogFile    string
	NoColor    bool
	ModelsDir  string
	ORTLibrary string
}

var (
	globalOpts GlobalOptions

	// set by PersistentPreRunE
	log      *logrus.Logger
	rtConfig config.Runtime

	// exitCode is returned by main once the command finished
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:           "metalroop",
	Short:         "Face swapping and enhancement for images and videos",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var envFiles []string
		if globalOpts.EnvFile != "" {
			envFiles = append(envFiles, globalOpts.EnvFile)
		}
		if err := config.LoadDotEnv(envFiles...); err != nil {
			return err
		}

		rt, err := config.RuntimeFromEnv()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			rt.LogLevel = globalOpts.LogLevel
		}
		if globalOpts.LogFile != "" {
			rt.LogFile = globalOpts.LogFile
		}
		if globalOpts.ModelsDir != "" {
			rt.ModelsDir = globalOpts.ModelsDir
		}
		if globalOpts.ORTLibrary != "" {
			rt.ORTLibrary = globalOpts.ORTLibrary
		}

		logger, err := logging.New(logging.Options{
			Level:   rt.LogLevel,
			File:    rt.LogFile,
			NoColor: globalOpts.NoColor,
		})
		if err != nil {
			return err
		}

		log = logger
		rtConfig = rt
		return nil
	},
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	// Ctrl+C stops running ffmpeg processes through the command context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return exitCode
}

// newStore creates the artifact store with download progress on stderr
func newStore(log logrus.FieldLogger) *models.Store {
	store := models.NewStore(rtConfig.ModelsDir, log)
	store.ShowProgress(os.Stderr)
	return store
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&globalOpts.EnvFile, "env-file", "", "Environment file to load (default: .env when present)")
	flags.StringVar(&globalOpts.LogLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	flags.StringVar(&globalOpts.LogFile, "log-file", "", "Also write logs to this rotating file")
	flags.BoolVar(&globalOpts.NoColor, "no-color", false, "Disable colored log output")
	flags.StringVar(&globalOpts.ModelsDir, "models-dir", "", "Model directory (default: models next to the executable)")
	flags.StringVar(&globalOpts.ORTLibrary, "ort-library", "", "ONNX Runtime shared library path")
}
