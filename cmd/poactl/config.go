package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	poaerrors "github.com/poa-ops/poactl/internal/errors"
	"github.com/poa-ops/poactl/internal/rules"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Edit, validate, apply and inspect the configuration document",
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the configuration document in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := newStore()
		if created, err := store.EnsureDocument(); err != nil {
			return err
		} else if created {
			out.Info("created template document at %s", configPath)
		}

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}
		edit := exec.Command(editor, configPath)
		edit.Stdin = os.Stdin
		edit.Stdout = os.Stdout
		edit.Stderr = os.Stderr
		if err := edit.Run(); err != nil {
			return fmt.Errorf("editor exited with error: %w", err)
		}
		out.Info("run 'poactl config validate' and then 'poactl config apply' to make the changes live")
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration document against all rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := newStore().Load()
		if err != nil {
			return err
		}
		result := rules.NewValidator().Validate(doc)
		if !result.Valid() {
			out.Error("validation failed with %d violation(s):", len(result.Violations))
			for _, v := range result.Violations {
				fmt.Printf("  - %s\n", v)
			}
			return fmt.Errorf("configuration is invalid")
		}
		out.Success("configuration is valid")
		return nil
	},
}

var configApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Validate, translate, back up, write, restart and verify",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newZapLogger()
		defer logger.Sync() //nolint:errcheck

		store := newStore()
		orchestrator, err := newOrchestrator(store, logger)
		if err != nil {
			return err
		}

		out.Header("applying configuration")
		result, err := orchestrator.Apply(cmd.Context())
		if err != nil {
			if poaerrors.HasCategory(err, poaerrors.ErrorCategoryConcurrentApply) {
				out.Error("another apply is already running")
				return err
			}
			if result != nil && len(result.Violations) > 0 {
				out.Error("apply blocked by %d validation violation(s):", len(result.Violations))
				for _, v := range result.Violations {
					fmt.Printf("  - %s\n", v)
				}
				return fmt.Errorf("apply failed at stage %s", result.FailedStage)
			}
			if result != nil {
				out.Error("apply failed at stage %s: %v", result.FailedStage, err)
				if result.RolledBack {
					out.Warn("rolled back to backup %s", result.BackupID)
				}
				if result.RollbackFailed {
					out.Error("ROLLBACK FAILED: manual intervention required, backup %s", result.BackupID)
				}
				return fmt.Errorf("apply failed at stage %s", result.FailedStage)
			}
			return err
		}

		out.Success("apply complete")
		out.Info("backup: %s", result.BackupID)
		out.Info("snapshot hash: %s", result.SnapshotHash)
		return nil
	},
}

var configStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show document state, last apply outcome and service health",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newZapLogger()
		defer logger.Sync() //nolint:errcheck

		reporter := newReporter(logger)
		report, err := reporter.Collect(cmd.Context())
		if err != nil {
			return err
		}
		reporter.Render(os.Stdout, report)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configEditCmd, configValidateCmd, configApplyCmd, configStatusCmd)
	rootCmd.AddCommand(configCmd)
}
