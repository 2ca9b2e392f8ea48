package main

import (
	"fmt"

	"github.com/backkem/isogate/pkg/config"
	"github.com/backkem/isogate/pkg/discovery"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli holds the state shared by the subcommands.
type cli struct {
	cfgFile string
	v       *viper.Viper

	// mdns replaces the network resolver used by discover.
	mdns discovery.MDNSResolver
}

func newRootCmd() *cobra.Command {
	return (&cli{v: config.New()}).rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "isogate",
		Short:         "isogate relays ISO 8583 traffic",
		Long:          `isogate relays ISO 8583 financial messages between terminals and hosts, wrapping them in encrypted envelopes between gateways.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (YAML)")

	root.AddCommand(
		c.serveCmd(),
		c.decodeCmd(),
		c.keygenCmd(),
		c.discoverCmd(),
		c.versionCmd(),
	)
	return root
}

// load reads the config file, if any, and decodes the merged settings.
func (c *cli) load() (*config.Config, error) {
	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
		c.v.SetConfigType("yaml")
		if err := c.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", c.cfgFile, err)
		}
	}
	return config.FromViper(c.v)
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "isogate %s\n", version)
		},
	}
}
