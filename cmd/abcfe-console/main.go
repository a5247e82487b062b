package main

import (
	"fmt"
	"os"

	"github.com/abcfe/abcfe-wallet/internal/console"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"

	host    string
	port    int
	logPath string
	refresh int
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "abcfe-console",
		Short: "ABCFe wallet console",
		Long: `ABCFe Console - terminal UI for a running wallet daemon

Lists accounts, imports watch-only addresses and answers pending
signature requests. Defaults come from ABCFE_CONSOLE_* variables.

Examples:
  abcfe-console                        # 127.0.0.1:8600
  abcfe-console --port 8700            # another daemon
  abcfe-console --log ./log/wallet     # tail a different log`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd)
		},
	}

	rootCmd.Flags().StringVar(&host, "host", "", "Wallet daemon host")
	rootCmd.Flags().IntVar(&port, "port", 0, "Wallet daemon REST port")
	rootCmd.Flags().StringVar(&logPath, "log", "", "Wallet log path prefix")
	rootCmd.Flags().IntVar(&refresh, "refresh", 0, "Refresh interval (seconds)")

	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ABCFe Console %s (built: %s)\n", Version, BuildTime)
		},
	}
}

func runConsole(cmd *cobra.Command) error {
	config, err := console.LoadConfig()
	if err != nil {
		return err
	}

	// flags win over the environment
	if cmd.Flags().Changed("host") {
		config.Host = host
	}
	if cmd.Flags().Changed("port") {
		config.Port = port
	}
	if cmd.Flags().Changed("log") {
		config.LogPath = logPath
	}
	if cmd.Flags().Changed("refresh") && refresh > 0 {
		config.RefreshSec = refresh
	}

	if err := console.Run(config); err != nil {
		return fmt.Errorf("console: %w", err)
	}
	return nil
}
