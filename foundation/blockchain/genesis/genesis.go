// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPath is where a node looks for the genesis file.
const DefaultPath = "zblock/genesis.json"

// Genesis represents the genesis file.
type Genesis struct {
	Date           time.Time       `json:"date"`
	Difficulty     int             `json:"difficulty"`      // How difficult it needs to be to solve the work problem.
	MiningReward   decimal.Decimal `json:"mining_reward"`   // Reward for mining a block.
	MinerAddress   string          `json:"miner_address"`   // Default beneficiary of mining rewards.
	GenesisAddress string          `json:"genesis_address"` // Receives the initial mint.
	GenesisReward  decimal.Decimal `json:"genesis_reward"`  // Amount minted in the genesis block.
}

// Default returns the genesis values used when no file is provided.
func Default() Genesis {
	return Genesis{
		Difficulty:     0,
		MiningReward:   decimal.NewFromInt(100),
		MinerAddress:   "59a8277a36bffda17f9a997e5f7c23",
		GenesisAddress: "6c7f05cca415fd2073de8ea8853834",
		GenesisReward:  decimal.NewFromInt(1_000_000),
	}
}

// =============================================================================

// Load opens and consumes the genesis file. Values missing from the file
// keep their defaults.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	genesis := Default()
	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, fmt.Errorf("decoding %s: %w", path, err)
	}

	if genesis.Difficulty < 0 {
		return Genesis{}, fmt.Errorf("difficulty must not be negative: %d", genesis.Difficulty)
	}

	return genesis, nil
}
