package main

import (
	"encoding/hex"
	"fmt"

	"github.com/backkem/isogate/pkg/crypto"
	"github.com/spf13/cobra"
)

func (c *cli) keygenCmd() *cobra.Command {
	var (
		algorithm string
		count     int
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Print random keys",
		Long:  `Print random hex keys sized for the cipher algorithm, for keys.master and keys.csk.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, err := crypto.ParseAlgorithm(algorithm)
			if err != nil {
				return err
			}
			if count <= 0 {
				return fmt.Errorf("count must be positive")
			}
			for i := 0; i < count; i++ {
				key, err := crypto.RandomKey(alg)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", "3des", "cipher algorithm: des, 3des, aes")
	cmd.Flags().IntVarP(&count, "count", "n", 2, "number of keys")
	return cmd
}
