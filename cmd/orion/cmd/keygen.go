package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/orion/internal/util"
)

const signingKeyBytes = 32

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a random signing key for --signing-key / ORION_SIGNING_KEY",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := util.RandomBytes(signingKeyBytes)
		if err != nil {
			return err
		}
		defer util.WipeBytes(key)
		fmt.Fprintln(cmd.OutOrStdout(), util.HexEncode(key))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
