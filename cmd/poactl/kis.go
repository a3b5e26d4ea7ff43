package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/poa-ops/poactl/internal/document"
)

var kisCmd = &cobra.Command{
	Use:   "kis",
	Short: "Manage KIS brokerage sub-account records",
}

var kisAddCmd = &cobra.Command{
	Use:   "add <number> <key> <secret> <account_number> <account_code>",
	Short: "Add or replace a KIS sub-account record",
	Args:  cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("KIS number must be an integer, got %q", args[0])
		}

		store := newStore()
		doc, err := store.Load()
		if err != nil {
			return err
		}
		doc.UpsertKISAccount(document.KISAccount{
			Number:        number,
			Key:           args[1],
			Secret:        args[2],
			AccountNumber: args[3],
			AccountCode:   args[4],
		})
		if err := store.Save(doc); err != nil {
			return err
		}
		out.Success("KIS%d saved", number)
		out.Info("run 'poactl config apply' to make it live")
		return nil
	},
}

var kisRemoveCmd = &cobra.Command{
	Use:   "remove <number>",
	Short: "Remove a KIS sub-account record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		number, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("KIS number must be an integer, got %q", args[0])
		}

		store := newStore()
		doc, err := store.Load()
		if err != nil {
			return err
		}
		if !doc.RemoveKISAccount(number) {
			return fmt.Errorf("no KIS account with number %d", number)
		}
		if err := store.Save(doc); err != nil {
			return err
		}
		out.Success("KIS%d removed", number)
		out.Info("run 'poactl config apply' to make it live")
		return nil
	},
}

var kisListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured KIS sub-accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := newStore().Load()
		if err != nil {
			return err
		}
		if len(doc.KISAccounts) == 0 {
			out.Info("no KIS accounts configured")
			return nil
		}
		for _, account := range doc.KISAccounts {
			fmt.Printf("  KIS%-3d account %s (%s)\n", account.Number, account.AccountNumber, account.AccountCode)
		}
		return nil
	},
}

func init() {
	kisCmd.AddCommand(kisAddCmd, kisRemoveCmd, kisListCmd)
	rootCmd.AddCommand(kisCmd)
}
