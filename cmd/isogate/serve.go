package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/backkem/isogate/pkg/config"
	"github.com/backkem/isogate/pkg/discovery"
	"github.com/backkem/isogate/pkg/gateway"
	"github.com/backkem/isogate/pkg/logsink"
	"github.com/pion/logging"
	"github.com/spf13/cobra"
)

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long:  `Run the gateway in the configured role until interrupted.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.String("role", "server", "relay role: server or client")
	flags.String("listen", ":8583", "listen address")
	flags.String("destination", "", "destination address for dedicated connections")
	flags.String("client-id", "", "client id (client role)")
	flags.String("log-level", "info", "log level: error, warn, info, debug, trace")
	flags.Bool("admin", false, "enable admin commands")
	flags.Bool("advertise", false, "advertise the listener with mDNS")

	for key, flag := range map[string]string{
		"role":                "role",
		"listen.address":      "listen",
		"destination.address": "destination",
		"relay.client_id":     "client-id",
		"log.level":           "log-level",
		"admin":               "admin",
		"discovery.enabled":   "advertise",
	} {
		cobra.CheckErr(c.v.BindPFlag(key, flags.Lookup(flag)))
	}
	return cmd
}

// serve runs a gateway for cfg until ctx is done.
func serve(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	if level == logging.LogLevelDisabled {
		logOut = io.Discard
	}
	sink := logsink.NewFactory(logsink.FactoryConfig{
		Capacity:    cfg.Log.Capacity,
		Level:       level,
		OutputLevel: level,
		Writer:      logOut,
	})

	gc, err := cfg.GatewayConfig(version, sink)
	if err != nil {
		return err
	}
	gc.LogSink = sink

	if ac, ok := cfg.AdvertiserConfig(listenPort(cfg.Listen.Address), sink); ok {
		adv, err := discovery.NewAdvertiser(ac)
		if err != nil {
			return err
		}
		defer adv.Close()
		gc.Advertiser = adv
	}

	g, err := gateway.New(gc)
	if err != nil {
		return err
	}
	if err := g.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	fmt.Fprintf(logOut, "isogate %s: %s role listening on %s\n", version, gc.Relay.Role, g.Addr())

	<-ctx.Done()
	if err := g.Stop(); err != nil {
		return fmt.Errorf("stop gateway: %w", err)
	}
	return nil
}

// listenPort extracts the port of a listen address, or 0.
func listenPort(addr string) int {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(port)
	return n
}
