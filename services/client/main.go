package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/HORNET-Storage/hornet-relay-client/lib/config"
	"github.com/HORNET-Storage/hornet-relay-client/lib/logging"
	"github.com/HORNET-Storage/hornet-relay-client/lib/signing"
	"github.com/HORNET-Storage/hornet-relay-client/lib/transports/websocket"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:          "hornet-relay-client",
		Short:        "Interactive nostr relay pool client",
		SilenceUsage: true,
		RunE:         runInteractive,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to config file")

	root.AddCommand(&cobra.Command{
		Use:   "keygen",
		Short: "Generate a new private key",
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, err := signing.GeneratePrivateKey()
			if err != nil {
				return err
			}
			nsec, err := signing.SerializePrivateKey(priv)
			if err != nil {
				return err
			}
			npub, err := signing.SerializePublicKey(priv.PubKey())
			if err != nil {
				return err
			}
			fmt.Println("nsec:", nsec)
			fmt.Println("npub:", npub)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "info <relay-url>",
		Short: "Fetch a relay information document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := websocket.FetchRelayInfo(args[0], 10*time.Second)
			if err != nil {
				return err
			}
			printRelayInfo(args[0], info)
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runInteractive(cmd *cobra.Command, args []string) error {
	if err := config.InitConfig(configFile); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	if err := logging.InitLogger(cfg.Logging, config.GetDataDir()); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.GetLogger().Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := newClient(cfg)
	if err != nil {
		return err
	}
	c.start(ctx)
	defer c.shutdown()

	RunCommandWatcher(ctx, c)
	return nil
}
