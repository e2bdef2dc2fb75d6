package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ardanlabs/powledger/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

type balance struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Balance string `json:"balance"`
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print your balance.",
	RunE:  balanceRun,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}

func balanceRun(cmd *cobra.Command, args []string) error {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		return err
	}

	address := signature.PublicKeyToAddress(privateKey.PublicKey)
	fmt.Fprintln(cmd.OutOrStdout(), "For Address:", address)

	resp, err := http.Get(fmt.Sprintf("%s/v1/wallet/%s/balance", url, address))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node responded %d", resp.StatusCode)
	}

	var bal balance
	if err := json.NewDecoder(resp.Body).Decode(&bal); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), bal.Balance)
	return nil
}
