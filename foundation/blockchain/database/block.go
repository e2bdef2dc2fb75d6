package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ardanlabs/powledger/foundation/blockchain/merkle"
	"github.com/ardanlabs/powledger/foundation/blockchain/signature"
)

// ErrBlockHashMismatch is returned when a block's stored hash does not match
// the hash recomputed from its contents.
var ErrBlockHashMismatch = errors.New("block hash does not match expected hash")

// =============================================================================

// Block represents a group of transactions batched together. An empty
// PrevHash marks the genesis block.
type Block struct {
	Index        uint64
	PrevHash     string
	Timestamp    int64
	Transactions []Tx
	Difficulty   int
	MerkleRoot   string
	Nonce        uint64
	OriginTxHash string
	Hash         string
}

// NewBlock constructs a block for the set of transactions with the merkle
// root, origin hash and hash calculated. The nonce starts at zero.
func NewBlock(index uint64, prevHash string, timestamp int64, txs []Tx, difficulty int) (Block, error) {
	root, err := merkle.Root(txHashes(txs))
	if err != nil {
		return Block{}, fmt.Errorf("merkle root: %w", err)
	}

	b := Block{
		Index:        index,
		PrevHash:     prevHash,
		Timestamp:    timestamp,
		Transactions: txs,
		Difficulty:   difficulty,
		MerkleRoot:   root,
	}
	b.OriginTxHash = b.CalculateOriginTxHash()
	b.Hash = b.CalculateHash()

	return b, nil
}

// CalculateOriginTxHash returns the origin hash of the last transaction, or
// of the one before it when the last has none (usually the mining reward).
func (b Block) CalculateOriginTxHash() string {
	n := len(b.Transactions)
	if n == 0 {
		return ""
	}

	if origin := b.Transactions[n-1].OriginTxHash; origin != "" {
		return origin
	}

	if n > 1 {
		return b.Transactions[n-2].OriginTxHash
	}

	return ""
}

// CalculateHash returns the unique hash for the Block.
func (b Block) CalculateHash() string {
	return b.hash(b.Nonce, b.transactionsJSON())
}

// MerkleTree constructs the merkle tree for the block's transactions.
func (b Block) MerkleTree() (*merkle.Tree, error) {
	return merkle.NewTree(txHashes(b.Transactions))
}

// Mine performs the work to find a nonce that solves the proof of work
// puzzle at the block's difficulty. Pointer semantics are being used since
// a nonce is being discovered.
func (b *Block) Mine(ctx context.Context, ev func(v string, args ...any)) error {
	ev("database: Mine: MINING: started: blk[%d]: difficulty[%d]", b.Index, b.Difficulty)
	defer ev("database: Mine: MINING: completed: blk[%d]", b.Index)

	for _, tx := range b.Transactions {
		ev("database: Mine: MINING: tx[%s]", tx)
	}

	// The transactions don't change while mining so encode them once.
	txs := b.transactionsJSON()

	var attempts uint64
	hash := b.hash(b.Nonce, txs)
	for !IsHashSolved(b.Difficulty, hash) {
		attempts++
		if attempts%1_000_000 == 0 {
			ev("database: Mine: MINING: attempts[%d]", attempts)
		}

		if attempts%(1<<16) == 0 && ctx.Err() != nil {
			ev("database: Mine: MINING: CANCELLED: attempts[%d]", attempts)
			return ctx.Err()
		}

		b.Nonce++
		hash = b.hash(b.Nonce, txs)
	}

	b.Hash = hash

	ev("database: Mine: MINING: SOLVED: prevBlk[%s]: newBlk[%s]: attempts[%d]", b.PrevHash, b.Hash, attempts)

	return nil
}

// HasValidTransactions checks the integrity and signature of every
// transaction and stops at the first one that fails.
func (b Block) HasValidTransactions(ev func(v string, args ...any)) bool {
	for _, tx := range b.Transactions {
		if err := tx.Validate(); err != nil {
			ev("database: HasValidTransactions: blk[%d]: invalid tx[%s]: %s", b.Index, tx.Hash, err)
			return false
		}
	}

	return true
}

// VerifyHash checks the stored hash against the recomputed hash.
func (b Block) VerifyHash() error {
	if exp := b.CalculateHash(); b.Hash != exp {
		return fmt.Errorf("%w: blk[%d]: stored[%s] expected[%s]", ErrBlockHashMismatch, b.Index, b.Hash, exp)
	}

	return nil
}

// IsGenesis reports whether the block starts a chain.
func (b Block) IsGenesis() bool {
	return b.Index == 0 && b.PrevHash == ""
}

// =============================================================================

// IsHashSolved checks the hash to make sure it complies with the POW rules.
// We need to match a difficulty number of 0's.
func IsHashSolved(difficulty int, hash string) bool {
	if difficulty <= 0 {
		return true
	}

	if len(hash) < difficulty {
		return false
	}

	return hash[:difficulty] == strings.Repeat("0", difficulty)
}

// CumulativeDifficulty sums the difficulty of every block in the chain.
func CumulativeDifficulty(blocks []Block) int {
	var total int
	for _, b := range blocks {
		total += b.Difficulty
	}

	return total
}

// =============================================================================

// hashTx is the fixed layout of a transaction when it takes part in the
// block hash.
type hashTx struct {
	FromAddress  *string `json:"fromAddress"`
	ToAddress    string  `json:"toAddress"`
	Amount       string  `json:"amount"`
	Timestamp    int64   `json:"timestamp"`
	Signature    *string `json:"signature"`
	OriginTxHash *string `json:"originTransactionHash"`
	PublicKey    string  `json:"publicKey"`
	Hash         string  `json:"hash"`
}

func (b Block) hash(nonce uint64, txs string) string {
	prev := b.PrevHash
	if prev == "" {
		prev = nullText
	}

	var sb strings.Builder
	sb.WriteString(prev)
	sb.WriteString(strconv.FormatInt(b.Timestamp, 10))
	sb.WriteString(b.MerkleRoot)
	sb.WriteString(strconv.FormatUint(nonce, 10))
	sb.WriteString(b.OriginTxHash)
	sb.WriteString(txs)

	return signature.Hash(sb.String())
}

func (b Block) transactionsJSON() string {
	txs := make([]hashTx, len(b.Transactions))
	for i, tx := range b.Transactions {
		txs[i] = hashTx{
			FromAddress:  nullable(tx.FromAddress),
			ToAddress:    tx.ToAddress,
			Amount:       tx.AmountString(),
			Timestamp:    tx.Timestamp,
			Signature:    nullable(tx.Signature),
			OriginTxHash: nullable(tx.OriginTxHash),
			PublicKey:    tx.PublicKey,
			Hash:         tx.Hash,
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	// Encoding a slice of plain strings and numbers can't fail.
	enc.Encode(txs)

	return strings.TrimSuffix(buf.String(), "\n")
}

func txHashes(txs []Tx) []string {
	hashes := make([]string, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash
	}

	return hashes
}
