package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/poa-ops/poactl/cmd/common"
	"github.com/poa-ops/poactl/internal/apply"
	"github.com/poa-ops/poactl/internal/backup"
	"github.com/poa-ops/poactl/internal/document"
	"github.com/poa-ops/poactl/internal/status"
	"github.com/poa-ops/poactl/internal/supervisor"
)

const (
	defaultConfigPath = "/root/config/poa_config.yaml"
	defaultEnvPath    = "/root/.env"
	defaultBackupDir  = "/root/backups"
	defaultRecordName = "last_apply.json"

	tradingService  = "POA"
	databaseService = "pocketbase"
)

var (
	configPath string
	envPath    string
	backupDir  string
	noEmoji    bool
	verbose    bool

	out *common.Logger
)

var rootCmd = &cobra.Command{
	Use:   "poactl",
	Short: "poactl manages the POA trading service configuration",
	Long: `poactl edits, validates and applies the POA configuration document.
Apply translates the document into the env file the trading process reads,
backs everything up first, restarts the dependent services and verifies they
came back, rolling back automatically on any failure.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		out = common.NewLogger()
		out.ShowEmojis = !noEmoji
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to the configuration document")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", defaultEnvPath, "path to the runtime env file")
	rootCmd.PersistentFlags().StringVar(&backupDir, "backup-dir", defaultBackupDir, "backup directory")
	rootCmd.PersistentFlags().BoolVar(&noEmoji, "no-emoji", false, "plain output without emojis")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose structured logging")
}

// wiring shared by the commands

func newZapLogger() *zap.Logger {
	var logger *zap.Logger
	var err error
	if verbose {
		logger, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		logger, err = cfg.Build()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func newStore() *document.Store {
	return document.NewStore(configPath)
}

func newBackupManager(logger *zap.Logger) *backup.Manager {
	return backup.NewManager(backupDir, logger)
}

func newRestartStack(logger *zap.Logger) *supervisor.Stack {
	return supervisor.NewStack(logger,
		supervisor.Target{Supervisor: &supervisor.Systemd{}, Service: databaseService},
		supervisor.Target{Supervisor: &supervisor.PM2{}, Service: tradingService},
	)
}

func newOrchestrator(store *document.Store, logger *zap.Logger) (*apply.Orchestrator, error) {
	doc, err := store.Load()
	if err != nil {
		return nil, err
	}
	probe := supervisor.NewProbe(fmt.Sprintf("http://127.0.0.1:%d/", doc.System.Port), logger)
	return apply.NewOrchestrator(
		store,
		newBackupManager(logger),
		newRestartStack(logger),
		probe,
		apply.Options{
			EnvPath:        envPath,
			RecordPath:     recordPath(),
			RestartTimeout: 30 * time.Second,
		},
		logger,
	), nil
}

func newReporter(logger *zap.Logger) *status.Reporter {
	return status.NewReporter(configPath, envPath, recordPath(), newBackupManager(logger), newRestartStack(logger))
}

func recordPath() string {
	return backupDir + "/" + defaultRecordName
}
