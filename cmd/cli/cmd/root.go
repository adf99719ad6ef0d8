package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/antisplit/pkg/config"
	"github.com/antisplit/pkg/pprof"
	"github.com/antisplit/pkg/telemetry"
	"github.com/antisplit/pkg/utils"
)

var (
	// Global flags
	configPath string
	logLevel   string
	logFormat  string
	verbose    bool

	// Pprof flags
	pprofDir      string
	pprofProfiles string

	cfg               *config.Config
	logger            utils.Logger = &utils.NullLogger{}
	telemetryShutdown telemetry.ShutdownFunc
	profileSession    *pprof.Session
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "antisplit",
	Short: "Merge split APKs into one installable APK",
	Long: `antisplit merges an Android app delivered as split APKs (a base APK plus
configuration and feature splits, or an .apks/.xapk/.apkm/.aspk bundle) into a
single APK. Resource tables and dex files are merged, the manifest is cleaned
of split markers and the result is signed with APK Signature Scheme v2.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			cfg.Log.Format = logFormat
		}
		if verbose {
			cfg.Log.Level = "debug"
		}

		logger = utils.NewLogger(utils.ParseLogLevel(cfg.Log.Level), cfg.Log.Format, cmd.ErrOrStderr())
		utils.SetGlobalLogger(logger)

		shutdown, err := telemetry.InitWithConfig(cmd.Context(), &cfg.Telemetry)
		if err != nil {
			logger.Warn("telemetry disabled: %v", err)
		} else {
			telemetryShutdown = shutdown
		}

		if pprofDir != "" {
			types, err := pprof.ParseProfileTypes(pprofProfiles)
			if err != nil {
				return err
			}
			session, err := pprof.Start(pprofDir, types)
			if err != nil {
				return err
			}
			profileSession = session
			logger.Debug("profiling %s into %s", pprof.String(types), pprofDir)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		finish()
		return nil
	},
}

// finish stops profiling and flushes traces. It runs after failed
// commands too, where PersistentPostRunE is skipped.
func finish() {
	if profileSession != nil {
		files, err := profileSession.Stop()
		if err != nil {
			logger.Warn("failed to write profiles: %v", err)
		}
		for _, f := range files {
			logger.Info("profile written: %s", f)
		}
		profileSession = nil
	}
	if telemetryShutdown != nil {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown: %v", err)
		}
		telemetryShutdown = nil
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signalContext()
	err := rootCmd.ExecuteContext(ctx)
	stop()
	finish()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./config.yaml, ./configs/config.yaml or ~/.antisplit/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text, logrus or json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Shorthand for --log-level debug")

	rootCmd.PersistentFlags().StringVar(&pprofDir, "pprof-dir", "", "Write runtime profiles of this run to the directory")
	rootCmd.PersistentFlags().StringVar(&pprofProfiles, "pprof-profiles", "cpu,heap", "Comma-separated profile types: cpu,heap,goroutine,block,mutex,allocs")

	binName := BinName()
	rootCmd.Example = `  # Merge a bundle for an arm64 xxhdpi English device
  ` + binName + ` merge app.apks --abi arm64-v8a --density 480 --locale en-US

  # Merge every split of a directory without signing
  ` + binName + ` merge ./splits --select-all --sign=false -o app.apk

  # Show what a bundle contains
  ` + binName + ` inspect app.xapk --format json

  # List recent merges
  ` + binName + ` history`
}

// GetLogger returns the configured logger
func GetLogger() utils.Logger {
	return logger
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}
