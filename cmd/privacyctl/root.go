package main

import (
	"fmt"

	"github.com/raaihank/browser-sentinel/internal/config"
	"github.com/raaihank/browser-sentinel/internal/logger"
	"github.com/raaihank/browser-sentinel/pkg/privacy"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app holds what every subcommand needs once flags are parsed.
type app struct {
	cfgFile     string
	privacyPath string
	logLevel    string

	cfg *config.Config
	log *logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "privacyctl",
		Short: "Inspect and exercise the browser snapshot privacy filter",
		Long: `privacyctl manages the privacy config document, previews how a URL
resolves to redaction patterns, redacts recorded browser snapshots and
replays them through the agent interceptor with a live audit server.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.SetVersionTemplate("privacyctl {{.Version}}\n")

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "application config file (default ./privacyctl.yaml)")
	flags.StringVarP(&a.privacyPath, "privacy-config", "p", "", "privacy config document (default "+privacy.DefaultConfigPath()+")")
	flags.StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newInitCmd(a),
		newPatternsCmd(a),
		newResolveCmd(a),
		newValidateCmd(a),
		newRedactCmd(a),
		newReplayCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.privacyPath == "" {
		a.privacyPath = cfg.Privacy.ConfigPath
	}

	// Logs go to stderr so redacted output on stdout stays clean.
	logCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	}
	if cfg.Logging.File.Enabled {
		logCfg.File = &logger.FileConfig{
			Enabled:    true,
			Path:       cfg.Logging.File.Path,
			MaxSize:    cfg.Logging.File.MaxSize,
			MaxBackups: cfg.Logging.File.MaxBackups,
			MaxAge:     cfg.Logging.File.MaxAge,
			Compress:   cfg.Logging.File.Compress,
		}
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.cfg = cfg
	a.log = log
	log.Debug("privacyctl starting",
		zap.String("version", version),
		zap.String("command", cmd.Name()),
	)
	return nil
}

func (a *app) store() *privacy.Store {
	return privacy.NewStore(nil, a.log.WithComponent("store").Logger)
}

// loadPrivacy loads the privacy document, falling back to defaults.
func (a *app) loadPrivacy() *privacy.Config {
	return a.store().Load(a.privacyPath)
}

func (a *app) resolvedPrivacyPath() string {
	if a.privacyPath == "" {
		return privacy.DefaultConfigPath()
	}
	return a.privacyPath
}
