package database

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ardanlabs/powledger/foundation/blockchain/signature"
	"github.com/shopspring/decimal"
)

// AmountPlaces is the number of fractional digits amounts are rendered with.
const AmountPlaces = 8

// nullText is how an absent sender takes part in hashing so reward
// transactions hash the same on every node.
const nullText = "null"

// Set of error variables for transaction validation.
var (
	ErrSigning          = errors.New("reward transactions can't be signed")
	ErrMissingSignature = errors.New("transaction signature is missing")
	ErrMissingPublicKey = errors.New("transaction public key is missing")
	ErrInvalidSignature = errors.New("transaction signature is invalid")
	ErrHashMismatch     = errors.New("transaction hash does not match expected hash")
)

// =============================================================================

// Tx is the transactional information between two parties. An empty
// FromAddress marks a mining reward or genesis mint.
type Tx struct {
	FromAddress  string
	ToAddress    string
	Amount       decimal.Decimal
	Timestamp    int64
	OriginTxHash string
	PublicKey    string
	Signature    string
	Hash         string
	BlockHash    string
	IndexInBlock *int
}

// NewTx constructs a new unsigned transaction stamped with the current time.
func NewTx(from string, to string, amount decimal.Decimal, originTxHash string) Tx {
	tx := Tx{
		FromAddress:  from,
		ToAddress:    to,
		Amount:       amount,
		Timestamp:    time.Now().UnixMilli(),
		OriginTxHash: originTxHash,
	}
	tx.Hash = tx.CalculateHash()

	return tx
}

// NewRewardTx constructs a transaction that mints the amount to the address.
func NewRewardTx(to string, amount decimal.Decimal) Tx {
	return NewTx("", to, amount, "")
}

// IsReward reports whether the transaction has no sender.
func (tx Tx) IsReward() bool {
	return tx.FromAddress == ""
}

// AmountString returns the amount with the fixed number of fractional digits.
func (tx Tx) AmountString() string {
	return tx.Amount.StringFixed(AmountPlaces)
}

// CalculateHash returns the hex sha256 over the sender, recipient, fixed
// point amount, origin hash and timestamp of the transaction.
func (tx Tx) CalculateHash() string {
	from := tx.FromAddress
	if from == "" {
		from = nullText
	}

	data := from + tx.ToAddress + tx.AmountString() + tx.OriginTxHash + strconv.FormatInt(tx.Timestamp, 10)

	return signature.Hash(data)
}

// Sign uses the specified private key to sign the transaction. The public
// key used is stored with the transaction so peers can verify it.
func (tx *Tx) Sign(privateKey *ecdsa.PrivateKey) error {
	if tx.IsReward() {
		return ErrSigning
	}

	hash := tx.CalculateHash()

	sig, pub, err := signature.Sign(hash, privateKey)
	if err != nil {
		return fmt.Errorf("signing transaction: %w", err)
	}

	tx.Hash = hash
	tx.Signature = sig
	tx.PublicKey = pub

	return nil
}

// IsValid verifies the transaction signature. Reward transactions are always
// valid. A malformed key or signature is returned as ErrInvalidSignature.
func (tx Tx) IsValid() (bool, error) {
	if tx.IsReward() {
		return true, nil
	}

	if tx.Signature == "" {
		return false, ErrMissingSignature
	}

	if tx.PublicKey == "" {
		return false, ErrMissingPublicKey
	}

	ok, err := signature.Verify(tx.CalculateHash(), tx.Signature, tx.PublicKey)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}

	return ok, nil
}

// VerifyIntegrity checks the stored hash against the recomputed hash.
func (tx Tx) VerifyIntegrity() error {
	if exp := tx.CalculateHash(); tx.Hash != exp {
		return fmt.Errorf("%w: stored[%s] expected[%s] from[%s] to[%s] amount[%s] origin[%s] timestamp[%d]",
			ErrHashMismatch, tx.Hash, exp, tx.FromAddress, tx.ToAddress, tx.AmountString(), tx.OriginTxHash, tx.Timestamp)
	}

	return nil
}

// Validate runs the integrity and signature checks and reports the first
// problem found.
func (tx Tx) Validate() error {
	if err := tx.VerifyIntegrity(); err != nil {
		return err
	}

	ok, err := tx.IsValid()
	if err != nil {
		return err
	}

	if !ok {
		return ErrInvalidSignature
	}

	return nil
}

// String implements the fmt.Stringer interface for logging.
func (tx Tx) String() string {
	from := tx.FromAddress
	if from == "" {
		from = nullText
	}

	hash := tx.Hash
	if len(hash) > 16 {
		hash = hash[:16]
	}

	return fmt.Sprintf("%s:%s->%s:%s", hash, from, tx.ToAddress, tx.AmountString())
}
