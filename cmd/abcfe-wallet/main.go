package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/abcfe/abcfe-wallet/app"
	"github.com/abcfe/abcfe-wallet/common/logger"
	conf "github.com/abcfe/abcfe-wallet/config"
	"github.com/abcfe/abcfe-wallet/keyring"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Version info (Injected from Makefile)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// PID file management - Use user home directory
func getPidFilePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./abcfe-wallet.pid"
	}
	return filepath.Join(homeDir, ".abcfe-wallet", "abcfe-wallet.pid")
}

var (
	pidFile    = getPidFilePath()
	configFile string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "abcfe-wallet",
		Short: "ABCFe wallet daemon",
		Long: `ABCFe wallet daemon. Holds the encrypted keyring vault, signs through software keys,
manual offline signers and QR hardware devices, and serves the REST and WebSocket API.`,
		Run: func(cmd *cobra.Command, args []string) {
			runDaemon()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(vaultCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(accountsCmd())
	rootCmd.AddCommand(urCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(dbCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println("Failed to execute command:", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ABCFe Wallet %s (built: %s)\n", Version, BuildTime)
		},
	}
}

func runDaemon() {
	application, err := app.New(configFile)
	if err != nil {
		fmt.Println("Failed to initialize application:", err)
		os.Exit(1)
	}

	application.SigHandler()
	logger.Info("Wallet start.")

	if err := application.StartAll(); err != nil {
		logger.Error("Failed to start services:", err)
		application.Terminate()
		os.Exit(1)
	}

	application.Wait()
	logger.Info("Wallet terminated.")
}

// openOffline wires the wallet without serving it. The daemon holds the
// database lock, so these commands only work while it is stopped.
func openOffline() (*app.App, error) {
	if isRunning(pidFile) {
		return nil, fmt.Errorf("wallet daemon is running, stop it first or use the API")
	}
	cfg, err := conf.NewConfig(configFile)
	if err != nil {
		return nil, err
	}
	if err := logger.InitLogger(cfg); err != nil {
		return nil, err
	}
	return app.NewWithConfig(cfg)
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		var line string
		_, err := fmt.Fscanln(os.Stdin, &line)
		return line, err
	}
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

func unlocked(ctx context.Context) (*app.App, error) {
	application, err := openOffline()
	if err != nil {
		return nil, err
	}
	password, err := readPassword("Password: ")
	if err != nil {
		application.Cleanup()
		return nil, err
	}
	if err := application.Keyring.Unlock(ctx, password); err != nil {
		application.Cleanup()
		return nil, err
	}
	return application, nil
}

func vaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Vault management commands",
	}

	var mnemonic string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create the vault with a fresh HD keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openOffline()
			if err != nil {
				return err
			}
			defer application.Cleanup()

			password, err := readPassword("New password: ")
			if err != nil {
				return err
			}
			confirm, err := readPassword("Confirm password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return fmt.Errorf("passwords do not match")
			}

			ctx := cmd.Context()
			if err := application.Keyring.CreateNewVault(ctx, password); err != nil {
				return err
			}
			kr, err := application.Keyring.AddNewKeyring(ctx, keyring.KindHD, keyring.Options{
				Mnemonic:         strings.TrimSpace(mnemonic),
				NumberOfAccounts: 1,
			})
			if err != nil {
				return err
			}

			fmt.Println("=== Vault Created ===")
			if hd, ok := kr.(*keyring.HDKeyring); ok && mnemonic == "" {
				fmt.Println("")
				fmt.Println("IMPORTANT: Write down your mnemonic phrase and keep it safe!")
				fmt.Printf("Mnemonic: %s\n", hd.Mnemonic())
			}
			fmt.Println("")
			for _, addr := range kr.Accounts() {
				fmt.Printf("Address: %s\n", strings.ToLower(addr.Hex()))
			}
			return nil
		},
	}
	create.Flags().StringVarP(&mnemonic, "mnemonic", "m", "", "Restore from this mnemonic instead of generating one")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether a vault exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openOffline()
			if err != nil {
				return err
			}
			defer application.Cleanup()
			exists, err := application.Keyring.VaultExists()
			if err != nil {
				return err
			}
			fmt.Printf("Vault present: %v\n", exists)
			return nil
		},
	})

	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import an account",
	}

	importWith := func(strategy string) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			application, err := unlocked(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Cleanup()
			addr, err := application.Keyring.ImportNewAccount(cmd.Context(), strategy, args)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %s\n", strings.ToLower(addr.Hex()))
			return nil
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "address <0x...>",
		Short: "Watch an address signed for offline",
		Args:  cobra.ExactArgs(1),
		RunE:  importWith(prt.StrategyAddress),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "key <hex private key>",
		Short: "Import a private key",
		Args:  cobra.ExactArgs(1),
		RunE:  importWith(prt.StrategyPrivateKey),
	})
	return cmd
}

func accountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List keyrings and their accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := unlocked(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Cleanup()

			selected := application.Keyring.SelectedAddress()
			fmt.Println("=== Wallet Accounts ===")
			for i, kr := range application.Keyring.Keyrings() {
				fmt.Printf("[%d] %s\n", i, kr.Type())
				for _, addr := range kr.Accounts() {
					hex := strings.ToLower(addr.Hex())
					current := ""
					if strings.EqualFold(hex, selected) {
						current = " (selected)"
					}
					fmt.Printf("  %s%s\n", hex, current)
				}
			}
			return nil
		},
	}
}
