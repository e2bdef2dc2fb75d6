package database

import (
	"github.com/shopspring/decimal"
)

// Amount is a fixed point value that is written as a string with eight
// fractional digits and read from either a JSON string or number.
type Amount struct {
	decimal.Decimal
}

// NewAmount wraps the decimal value.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

// MarshalJSON implements the json.Marshaler interface.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.StringFixed(AmountPlaces) + `"`), nil
}

// =============================================================================

// TxData is the wire and persistable form of a transaction. Absent values
// travel as JSON null.
type TxData struct {
	FromAddress  *string `json:"fromAddress"`
	ToAddress    string  `json:"toAddress"`
	Amount       Amount  `json:"amount"`
	Timestamp    int64   `json:"timestamp"`
	Signature    *string `json:"signature"`
	BlockHash    string  `json:"blockHash"`
	OriginTxHash *string `json:"originTransactionHash"`
	PublicKey    string  `json:"publicKey"`
	Hash         string  `json:"hash"`
	IndexInBlock *int    `json:"index_in_block"`
}

// NewTxData constructs the wire form of the transaction.
func NewTxData(tx Tx) TxData {
	return TxData{
		FromAddress:  nullable(tx.FromAddress),
		ToAddress:    tx.ToAddress,
		Amount:       NewAmount(tx.Amount),
		Timestamp:    tx.Timestamp,
		Signature:    nullable(tx.Signature),
		BlockHash:    tx.BlockHash,
		OriginTxHash: nullable(tx.OriginTxHash),
		PublicKey:    tx.PublicKey,
		Hash:         tx.Hash,
		IndexInBlock: tx.IndexInBlock,
	}
}

// ToTx converts the wire form into a transaction. The stored hash is kept so
// it can be checked, and calculated only when none was provided.
func ToTx(d TxData) Tx {
	tx := Tx{
		FromAddress:  value(d.FromAddress),
		ToAddress:    d.ToAddress,
		Amount:       d.Amount.Decimal,
		Timestamp:    d.Timestamp,
		OriginTxHash: value(d.OriginTxHash),
		PublicKey:    d.PublicKey,
		Signature:    value(d.Signature),
		Hash:         d.Hash,
		BlockHash:    d.BlockHash,
		IndexInBlock: d.IndexInBlock,
	}

	if tx.Hash == "" {
		tx.Hash = tx.CalculateHash()
	}

	return tx
}

// =============================================================================

// BlockData is the wire and persistable form of a block.
type BlockData struct {
	Index        uint64   `json:"index"`
	PrevHash     *string  `json:"previous_hash"`
	Timestamp    int64    `json:"timestamp"`
	Nonce        uint64   `json:"nonce"`
	Difficulty   int      `json:"difficulty"`
	MerkleRoot   string   `json:"merkle_root"`
	Hash         string   `json:"hash"`
	OriginTxHash *string  `json:"origin_transaction_hash"`
	Transactions []TxData `json:"transactions"`
}

// NewBlockData constructs the wire form of the block.
func NewBlockData(b Block) BlockData {
	txs := make([]TxData, len(b.Transactions))
	for i, tx := range b.Transactions {
		txs[i] = NewTxData(tx)
	}

	return BlockData{
		Index:        b.Index,
		PrevHash:     nullable(b.PrevHash),
		Timestamp:    b.Timestamp,
		Nonce:        b.Nonce,
		Difficulty:   b.Difficulty,
		MerkleRoot:   b.MerkleRoot,
		Hash:         b.Hash,
		OriginTxHash: nullable(b.OriginTxHash),
		Transactions: txs,
	}
}

// ToBlock converts the wire form into a block. The stored hash, nonce, merkle
// root and origin hash are taken as given so validation can compare them with
// recomputed values. A previous hash of "0", "" or "null" marks the genesis.
func ToBlock(bd BlockData) Block {
	txs := make([]Tx, len(bd.Transactions))
	for i, d := range bd.Transactions {
		txs[i] = ToTx(d)
	}

	return Block{
		Index:        bd.Index,
		PrevHash:     normalizePrevHash(bd.PrevHash),
		Timestamp:    bd.Timestamp,
		Transactions: txs,
		Difficulty:   bd.Difficulty,
		MerkleRoot:   bd.MerkleRoot,
		Nonce:        bd.Nonce,
		OriginTxHash: value(bd.OriginTxHash),
		Hash:         bd.Hash,
	}
}

// ToBlocks converts a chain of wire blocks.
func ToBlocks(chain []BlockData) []Block {
	blocks := make([]Block, len(chain))
	for i, bd := range chain {
		blocks[i] = ToBlock(bd)
	}

	return blocks
}

// NewChainData converts a chain of blocks to the wire form.
func NewChainData(blocks []Block) []BlockData {
	chain := make([]BlockData, len(blocks))
	for i, b := range blocks {
		chain[i] = NewBlockData(b)
	}

	return chain
}

// =============================================================================

func normalizePrevHash(prev *string) string {
	if prev == nil {
		return ""
	}

	switch *prev {
	case "0", "", nullText:
		return ""
	}

	return *prev
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}

func value(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}
