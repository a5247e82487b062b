package main

import (
	"errors"
	"fmt"

	conf "github.com/abcfe/abcfe-wallet/config"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/abcfe/abcfe-wallet/storage"
	"github.com/spf13/cobra"
)

// dbCmd inspects the wallet db without unlocking it. Nothing secret is printed.
func dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect the wallet database",
	}

	open := func() (*storage.DB, error) {
		if isRunning(pidFile) {
			return nil, errors.New("wallet daemon is running, stop it first")
		}
		cfg, err := conf.NewConfig(configFile)
		if err != nil {
			return nil, err
		}
		return storage.OpenReadOnly(cfg)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "keys [prefix]",
		Short: "List stored keys",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()

			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			entries, err := db.Entries(prefix)
			if err != nil {
				return err
			}
			fmt.Println("=== KEYS ===")
			for _, e := range entries {
				fmt.Printf("%-24s %d bytes\n", e.Key, e.Size)
			}
			fmt.Printf("Total keys: %d\n", len(entries))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "meta",
		Short: "Show vault envelope and preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()

			fmt.Println("=== VAULT ===")
			info, err := storage.NewVault(db, conf.Vault{}).Info()
			switch {
			case errors.Is(err, storage.ErrVaultNotFound):
				fmt.Println("Vault: Not found")
			case err != nil:
				return err
			default:
				fmt.Printf("Version: %d\n", info.Version)
				fmt.Printf("KDF: %s (N=%d r=%d p=%d)\n", info.KDF, info.N, info.R, info.P)
				fmt.Printf("Ciphertext: %d bytes\n", info.CipherTextSz)
			}

			fmt.Println()
			fmt.Println("=== PREFERENCES ===")
			selected, err := storage.NewPreferences(db).SelectedAddress()
			if err != nil {
				return err
			}
			if selected == "" {
				selected = "none"
			}
			fmt.Printf("%s: %s\n", prt.KeyPrefSelected, selected)
			return nil
		},
	})

	return cmd
}
