// Package signature provides helper functions for handling the blockchain
// signature needs. Transactions are signed with secp256k1 over the 32 bytes
// of their sha256 hash and the signature is carried as DER encoded hex.
package signature

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	decdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ethereum/go-ethereum/crypto"
)

// ZeroHash represents a hash code of zeros.
var ZeroHash = strings.Repeat("0", 64)

// Set of error variables for signing and verification.
var (
	ErrInvalidHash      = errors.New("invalid hash")
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// =============================================================================

// Hash returns the sha256 hex encoding of the data.
func Hash(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// Sign uses the specified private key to sign the hex encoded hash. It returns
// the DER encoded signature and the uncompressed public key, both as hex.
func Sign(hash string, privateKey *ecdsa.PrivateKey) (sig string, publicKey string, err error) {
	data, err := hashBytes(hash)
	if err != nil {
		return "", "", err
	}

	if privateKey == nil {
		return "", "", errors.New("private key is missing")
	}

	// Move the key into the secp256k1 implementation that supports DER.
	pk := secp256k1.PrivKeyFromBytes(crypto.FromECDSA(privateKey))

	signature := decdsa.Sign(pk, data)

	// Check the signature against the public key before handing it out.
	pub := pk.PubKey()
	if !signature.Verify(data, pub) {
		return "", "", ErrInvalidSignature
	}

	return hex.EncodeToString(signature.Serialize()), hex.EncodeToString(pub.SerializeUncompressed()), nil
}

// Verify checks the DER encoded signature of the hash with the public key.
// A malformed key or signature is reported as an error, a well formed
// signature that does not match is reported as false.
func Verify(hash string, sig string, publicKey string) (bool, error) {
	data, err := hashBytes(hash)
	if err != nil {
		return false, err
	}

	keyBytes, err := hex.DecodeString(publicKey)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrInvalidPublicKey, err)
	}

	pub, err := secp256k1.ParsePubKey(keyBytes)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrInvalidPublicKey, err)
	}

	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}

	signature, err := decdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}

	return signature.Verify(data, pub), nil
}

// PublicKeyString returns the uncompressed hex form of the public key.
func PublicKeyString(publicKey ecdsa.PublicKey) string {
	return hex.EncodeToString(crypto.FromECDSAPub(&publicKey))
}

// PublicKeyToAddress derives the wallet address for the public key. The
// address is the lower case hex of the last 20 bytes of its keccak256 hash.
func PublicKeyToAddress(publicKey ecdsa.PublicKey) string {
	return hex.EncodeToString(crypto.PubkeyToAddress(publicKey).Bytes())
}

// =============================================================================

// hashBytes converts a hex encoded hash into the 32 bytes that are signed.
func hashBytes(hash string) ([]byte, error) {
	data, err := hex.DecodeString(hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHash, err)
	}

	if len(data) != sha256.Size {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidHash, len(data))
	}

	return data, nil
}
