package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/backkem/isogate/pkg/discovery"
	"github.com/spf13/cobra"
)

func (c *cli) discoverCmd() *cobra.Command {
	var (
		role    string
		nii     int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List gateways advertised on the local network",
		Long:  `Browse DNS-SD for ` + discovery.ServiceGateway + ` services and print one line per gateway. With --nii, print the first server gateway serving that NII.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := discovery.NewResolver(discovery.ResolverConfig{
				MDNSResolver:  c.mdns,
				BrowseTimeout: timeout,
			})
			if err != nil {
				return err
			}

			var gateways []discovery.Gateway
			if cmd.Flags().Changed("nii") {
				g, err := res.Find(cmd.Context(), nii)
				if err != nil {
					return fmt.Errorf("nii %d: %w", nii, err)
				}
				gateways = append(gateways, *g)
			} else {
				gateways, err = res.Browse(cmd.Context(), discovery.Role(role))
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			for i := range gateways {
				fmt.Fprintln(out, formatGateway(&gateways[i]))
			}
			if len(gateways) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no gateways found")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&role, "role", "r", "", "only list gateways of this role: server, client")
	cmd.Flags().IntVar(&nii, "nii", 0, "find the server gateway serving this NII")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", discovery.DefaultBrowseTimeout, "how long to collect answers")
	return cmd
}

func formatGateway(g *discovery.Gateway) string {
	niis := make([]string, len(g.TXT.NIIs))
	for i, n := range g.TXT.NIIs {
		niis[i] = strconv.Itoa(n)
	}
	line := fmt.Sprintf("%s\t%s\trole=%s\tnii=%s", g.Instance, g.Address(), g.TXT.Role, strings.Join(niis, ","))
	if g.TXT.Version != "" {
		line += "\tver=" + g.TXT.Version
	}
	if g.TXT.Algorithm != "" {
		line += "\talg=" + g.TXT.Algorithm
	}
	if g.TXT.TLS {
		line += "\ttls"
	}
	return line
}
