package cmd

import (
	"fmt"

	"github.com/ardanlabs/powledger/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Print the address and public key for the specific wallet",
	RunE:  accountRun,
}

func init() {
	rootCmd.AddCommand(accountCmd)
}

func accountRun(cmd *cobra.Command, args []string) error {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Address:   ", signature.PublicKeyToAddress(privateKey.PublicKey))
	fmt.Fprintln(cmd.OutOrStdout(), "Public Key:", signature.PublicKeyString(privateKey.PublicKey))
	return nil
}
