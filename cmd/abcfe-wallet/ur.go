package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/abcfe/abcfe-wallet/common/utils"
	conf "github.com/abcfe/abcfe-wallet/config"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"github.com/abcfe/abcfe-wallet/scanner"
	"github.com/abcfe/abcfe-wallet/ur"
	"github.com/abcfe/abcfe-wallet/ur/registry"
	"github.com/jonboulle/clockwork"
	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
)

func urCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ur",
		Short: "Uniform Resource tools",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "decode <part>...",
		Short: "Decode single or multi-part URs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := ur.NewDecoder()
			for _, part := range args {
				if _, err := d.ReceivePart(part); err != nil {
					return err
				}
			}
			if !d.IsComplete() {
				return fmt.Errorf("incomplete: %d of %d parts, %.0f%%",
					d.ReceivedPartCount(), d.ExpectedPartCount(), d.Progress()*100)
			}
			u, err := d.Result()
			if err != nil {
				return err
			}
			printUR(u)
			return nil
		},
	})

	var (
		urType      string
		fragmentLen int
		show        bool
		interval    time.Duration
	)
	encode := &cobra.Command{
		Use:   "encode <cbor hex>",
		Short: "Encode CBOR as UR parts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := utils.HexToBytes(args[0])
			if err != nil {
				return fmt.Errorf("invalid cbor hex: %w", err)
			}
			u, err := ur.New(urType, data)
			if err != nil {
				return err
			}
			parts, err := ur.EncodeAll(u, fragmentLen)
			if err != nil {
				return err
			}
			if !show {
				for _, p := range parts {
					fmt.Println(p)
				}
				return nil
			}
			return showParts(cmd.Context(), parts, interval)
		},
	}
	encode.Flags().StringVarP(&urType, "type", "t", prt.URTypeBytes, "UR type")
	encode.Flags().IntVarP(&fragmentLen, "fragment", "f", conf.DefaultConfig().Scanner.MaxFragmentLen, "Max fragment length")
	encode.Flags().BoolVar(&show, "qr", false, "Show the parts as terminal QR codes")
	encode.Flags().DurationVar(&interval, "interval", 300*time.Millisecond, "Delay between animated parts")
	cmd.AddCommand(encode)

	return cmd
}

func printUR(u *ur.UR) {
	fmt.Printf("Type: %s\n", u.Type)
	fmt.Printf("CBOR: %s\n", u.CBORHex())

	switch u.Type {
	case prt.URTypeCryptoHDKey:
		if k, err := registry.CryptoHDKeyFromUR(u); err == nil {
			fmt.Printf("Key: %x\n", k.KeyData)
			if k.Origin != nil {
				fmt.Printf("Origin: %s\n", k.Origin.Path())
			}
			if k.Name != "" {
				fmt.Printf("Name: %s\n", k.Name)
			}
		}
	case prt.URTypeCryptoAccount:
		if a, err := registry.CryptoAccountFromUR(u); err == nil {
			fmt.Printf("Master fingerprint: %08x\n", a.MasterFingerprint)
			for _, k := range a.Keys {
				if k.Origin != nil {
					fmt.Printf("  %s %x\n", k.Origin.Path(), k.KeyData)
				}
			}
		}
	case prt.URTypeEthSignRequest:
		if r, err := registry.EthSignRequestFromUR(u); err == nil {
			fmt.Printf("Request: %s chain %d\n", r.RequestID, r.ChainID)
			fmt.Printf("Sign data: %x\n", r.SignData)
		}
	case prt.URTypeEthSignature:
		if s, err := registry.EthSignatureFromUR(u); err == nil {
			fmt.Printf("Request: %s\n", s.RequestID)
			fmt.Printf("Signature: 0x%x\n", s.Signature)
		}
	}
}

// showParts cycles the parts as terminal QR codes until interrupted.
func showParts(ctx context.Context, parts []string, interval time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for i := 0; ; i = (i + 1) % len(parts) {
		fmt.Print("\033[H\033[2J")
		qrterminal.GenerateHalfBlock(strings.ToUpper(parts[i]), qrterminal.L, os.Stdout)
		fmt.Printf("part %d/%d\n", i+1, len(parts))
		if len(parts) == 1 {
			<-ctx.Done()
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

func scanCmd() *cobra.Command {
	var (
		dir     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Decode a UR from QR frames dropped into a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := conf.NewConfig(configFile)
			if err != nil {
				return err
			}
			if err := logger.InitLogger(cfg); err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Scanner.FramesDir
			}
			if dir == "" {
				return fmt.Errorf("no frame directory, pass --dir or set Scanner.FramesDir")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			frames := scanner.NewFrameScanner(scanner.NewDirSource(dir), clockwork.NewRealClock(),
				cfg.ScanAttemptDelay(), cfg.ScanSuccessDelay())
			d := ur.NewDecoder()
			done := make(chan error, 1)
			controls, err := frames.Start(ctx, func(text string) {
				if _, err := d.ReceivePart(text); err != nil {
					fmt.Printf("skipped frame: %v\n", err)
					return
				}
				fmt.Printf("\rprogress %.0f%%", d.Progress()*100)
				if d.IsComplete() {
					select {
					case done <- nil:
					default:
					}
				}
			})
			if err != nil {
				return err
			}
			defer controls.Stop()

			fmt.Printf("watching %s\n", dir)
			select {
			case <-ctx.Done():
				return fmt.Errorf("scan: %w", ctx.Err())
			case <-done:
			}
			controls.Stop()
			fmt.Println()
			u, err := d.Result()
			if err != nil {
				return err
			}
			printUR(u)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Frame directory (defaults to the configured one)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Give up after this long")
	return cmd
}
