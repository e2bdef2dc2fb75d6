// Package nameservice reads the zblock/accounts folder and creates a name
// service lookup for the addresses of the key files found there.
package nameservice

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ardanlabs/powledger/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
)

// NameService maintains a map of addresses for name lookup.
type NameService struct {
	accounts map[string]string
}

// New constructs a name service with the key files from the root folder. A
// missing folder results in an empty name service.
func New(root string) (*NameService, error) {
	ns := NameService{
		accounts: make(map[string]string),
	}

	fn := func(fileName string, info fs.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walkdir failure: %w", err)
		}

		if filepath.Ext(fileName) != ".ecdsa" {
			return nil
		}

		privateKey, err := crypto.LoadECDSA(fileName)
		if err != nil {
			return fmt.Errorf("loading %s: %w", fileName, err)
		}

		address := signature.PublicKeyToAddress(privateKey.PublicKey)
		ns.accounts[address] = strings.TrimSuffix(filepath.Base(fileName), ".ecdsa")

		return nil
	}

	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return &ns, nil
	}

	if err := filepath.Walk(root, fn); err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	return &ns, nil
}

// Lookup returns the name for the specified address. Unknown addresses are
// returned as is.
func (ns *NameService) Lookup(address string) string {
	name, exists := ns.accounts[address]
	if !exists {
		return address
	}
	return name
}

// Address returns the address for the specified name.
func (ns *NameService) Address(name string) (string, bool) {
	for address, n := range ns.accounts {
		if n == name {
			return address, true
		}
	}
	return "", false
}

// Copy returns a copy of the map of names and addresses.
func (ns *NameService) Copy() map[string]string {
	cpy := make(map[string]string, len(ns.accounts))
	for address, name := range ns.accounts {
		cpy[address] = name
	}
	return cpy
}
