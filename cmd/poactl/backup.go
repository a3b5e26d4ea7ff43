package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/poa-ops/poactl/internal/backup"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, list, restore and prune configuration backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Snapshot the current document and runtime env file",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newZapLogger()
		defer logger.Sync() //nolint:errcheck

		doc, err := newStore().Load()
		if err != nil {
			return err
		}
		meta, err := newBackupManager(logger).Snapshot(doc, envPath)
		if err != nil {
			return err
		}
		out.Success("backup %s created (%d bytes)", meta.ID, meta.SizeBytes)
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		metas, err := newBackupManager(nil).List()
		if err != nil {
			return err
		}
		if len(metas) == 0 {
			out.Info("no backups")
			return nil
		}
		for _, meta := range metas {
			env := ""
			if meta.HasEnv {
				env = " +env"
			}
			fmt.Printf("  %s  %6d bytes  %s%s\n", meta.ID, meta.SizeBytes, meta.Hash[:12], env)
		}
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore the document from a backup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newZapLogger()
		defer logger.Sync() //nolint:errcheck

		doc, err := newBackupManager(logger).Restore(args[0])
		if err != nil {
			return err
		}
		if err := newStore().Save(doc); err != nil {
			return err
		}
		out.Success("document restored from backup %s", args[0])
		out.Info("run 'poactl config apply' to make it live")
		return nil
	},
}

var backupPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete the oldest backups beyond the configured retention",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newZapLogger()
		defer logger.Sync() //nolint:errcheck

		doc, err := newStore().Load()
		if err != nil {
			return err
		}
		removed, err := newBackupManager(logger).Prune(doc.Backup.RetentionCount)
		if err != nil {
			return err
		}
		out.Success("pruned %d backup(s), retention %d", removed, doc.Backup.RetentionCount)
		return nil
	},
}

var backupDaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduled backups per the document's backup.schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newZapLogger()
		defer logger.Sync() //nolint:errcheck

		store := newStore()
		scheduler := backup.NewScheduler(newBackupManager(logger), store, envPath, logger)
		if err := scheduler.Start(); err != nil {
			return err
		}
		defer scheduler.Stop()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out.Info("backup scheduler running, Ctrl-C to stop")
		<-ctx.Done()
		return nil
	},
}

func init() {
	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupRestoreCmd, backupPruneCmd, backupDaemonCmd)
	rootCmd.AddCommand(backupCmd)
}
