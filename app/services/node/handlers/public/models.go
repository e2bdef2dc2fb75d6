package public

import (
	"github.com/ardanlabs/powledger/foundation/blockchain/database"
	"github.com/shopspring/decimal"
)

// submitTx is the payload a wallet posts to submit a signed transaction.
type submitTx struct {
	FromAddress  string          `json:"fromAddress" validate:"required,address"`
	ToAddress    string          `json:"toAddress" validate:"required,address"`
	Amount       decimal.Decimal `json:"amount"`
	Timestamp    int64           `json:"timestamp" validate:"required"`
	Signature    string          `json:"signature" validate:"required,hexadecimal"`
	OriginTxHash string          `json:"originTransactionHash"`
	PublicKey    string          `json:"publicKey" validate:"required,hexadecimal"`
}

// toTx converts the payload into a pending transaction. Block placement is
// left empty until the transaction is mined.
func (s submitTx) toTx() database.Tx {
	tx := database.Tx{
		FromAddress:  s.FromAddress,
		ToAddress:    s.ToAddress,
		Amount:       s.Amount,
		Timestamp:    s.Timestamp,
		OriginTxHash: s.OriginTxHash,
		PublicKey:    s.PublicKey,
		Signature:    s.Signature,
	}
	tx.Hash = tx.CalculateHash()

	return tx
}

type mineRequest struct {
	RewardAddress string `json:"rewardAddress" validate:"required,address"`
}

type mineResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Hash    string `json:"hash,omitempty"`
}

type settings struct {
	Difficulty   int             `json:"difficulty"`
	MiningReward decimal.Decimal `json:"miningReward"`
}

type updateSettings struct {
	Difficulty   *int                `json:"difficulty" validate:"omitempty,min=0,max=64"`
	MiningReward decimal.NullDecimal `json:"miningReward"`
}

type balance struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Balance string `json:"balance"`
}

type walletTxs struct {
	Transactions []database.TxData `json:"transactions"`
}

type message struct {
	Message string `json:"message"`
}

type created struct {
	Message string          `json:"message"`
	Tx      database.TxData `json:"tx"`
}
