package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/backkem/isogate/pkg/frame"
	"github.com/backkem/isogate/pkg/iso8583"
	"github.com/spf13/cobra"
)

func (c *cli) decodeCmd() *cobra.Command {
	var (
		template string
		prefix   string
	)
	cmd := &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode an ISO 8583 message",
		Long:  `Decode a hex encoded ISO 8583 message with a field template and print its fields, masking card data as the template says.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := hex.DecodeString(strings.Join(strings.Fields(args[0]), ""))
			if err != nil {
				return fmt.Errorf("invalid hex: %w", err)
			}
			p, err := frame.ParsePrefix(prefix)
			if err != nil {
				return err
			}
			if n := p.Size(); n > 0 {
				length, err := p.DecodeLength(data[:n])
				if err != nil {
					return err
				}
				if length != len(data)-n {
					return fmt.Errorf("%w: prefix says %d bytes, got %d", frame.ErrInvalidPrefix, length, len(data)-n)
				}
				data = data[n:]
			}
			t, err := iso8583.LookupTemplate(template)
			if err != nil {
				return err
			}
			m := iso8583.NewMessage(t)
			if err := m.Unpack(data, 0, len(data)); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), m.Dump())
			return nil
		},
	}
	cmd.Flags().StringVarP(&template, "template", "t", "standard", "field template: standard, ascii or a YAML file")
	cmd.Flags().StringVarP(&prefix, "prefix", "p", "none", "length prefix in front of the message: none, binary, bcd, ascii4")
	return cmd
}
