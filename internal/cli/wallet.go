package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/transport"
	"github.com/permaskills/skills/internal/wallet"
)

var (
	walletPath  string
	walletForce bool
)

func init() {
	walletCmd.PersistentFlags().StringVar(&walletPath, "wallet", "", "Wallet key file (default wallet.path)")
	walletCreateCmd.Flags().BoolVarP(&walletForce, "force", "f", false, "Overwrite an existing wallet")
	walletCmd.AddCommand(walletCreateCmd)
	walletCmd.AddCommand(walletAddressCmd)
	walletCmd.AddCommand(walletBalanceCmd)
	rootCmd.AddCommand(walletCmd)
}

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage the publishing wallet",
	Long: `Create and inspect the Ed25519 key used to sign uploads and registry
writes. Installing never needs a wallet.`,
}

var walletCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Generate a new wallet key file",
	Args:  argsExactly(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := walletPath
		if path == "" {
			path = cfg.WalletPath()
		}
		if _, err := os.Stat(path); err == nil && !walletForce {
			return apperr.New(apperr.KindValidation, apperr.CodeTargetExists,
				fmt.Sprintf("wallet %s already exists", path), "pass --force to replace it")
		}

		w, err := wallet.Generate()
		if err != nil {
			return err
		}
		if err := w.Save(path); err != nil {
			return apperr.Wrap(err, apperr.KindFileSystem, apperr.CodeIO, "saving wallet", "")
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✓ Created wallet %s\n", path)
		fmt.Fprintf(out, "  Address: %s\n", w.Address())
		fmt.Fprintln(out, "  Keep this file private; it controls every skill you publish.")
		return nil
	},
}

var walletAddressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the wallet address",
	Args:  argsExactly(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := loadWallet(walletPath)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), w.Address())
		return nil
	},
}

var walletBalanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print the wallet balance on the gateway",
	Args:  argsExactly(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := loadWallet(walletPath)
		if err != nil {
			return err
		}
		storage, err := newTransport("")
		if err != nil {
			return err
		}
		balance, err := storage.Balance(cmd.Context(), w.Address())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s AR (%d winston)\n", transport.FormatWinston(balance), balance)
		return nil
	},
}
