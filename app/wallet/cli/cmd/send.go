package cmd

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/ardanlabs/powledger/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	to     string
	amount string
	origin string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Sign and submit a transaction",
	RunE: func(cmd *cobra.Command, args []string) error {
		privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
		if err != nil {
			return err
		}

		value, err := decimal.NewFromString(amount)
		if err != nil {
			return fmt.Errorf("parsing amount %q: %w", amount, err)
		}

		return sendWithDetails(cmd.OutOrStdout(), privateKey, value)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Address to send to.")
	sendCmd.Flags().StringVarP(&amount, "amount", "v", "", "Amount to send.")
	sendCmd.Flags().StringVarP(&origin, "origin", "o", "", "Hash of the transaction this one spends from.")
	sendCmd.MarkFlagRequired("to")
	sendCmd.MarkFlagRequired("amount")
}

func sendWithDetails(out io.Writer, privateKey *ecdsa.PrivateKey, value decimal.Decimal) error {
	from := signature.PublicKeyToAddress(privateKey.PublicKey)

	tx := database.NewTx(from, to, value, origin)
	if err := tx.Sign(privateKey); err != nil {
		return err
	}

	data, err := json.Marshal(database.NewTxData(tx))
	if err != nil {
		return err
	}

	resp, err := http.Post(fmt.Sprintf("%s/v1/transaction", url), "application/json", bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("node responded %d: %s", resp.StatusCode, body)
	}

	fmt.Fprintln(out, tx.Hash)
	return nil
}
