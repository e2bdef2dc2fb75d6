// Package p2p implements the peer protocol: the messages nodes exchange and
// the websocket connections that carry them.
package p2p

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ardanlabs/powledger/foundation/blockchain/database"
)

// ErrUnknownMessage is returned when a message type is not part of the
// protocol.
var ErrUnknownMessage = errors.New("unknown message type")

// MessageType identifies the payload carried by a message.
type MessageType string

// Set of message types in the protocol.
const (
	TypeRequestGenesis MessageType = "REQUEST_GENESIS_BLOCK"
	TypeGenesisBlock   MessageType = "GENESIS_BLOCK"
	TypeChain          MessageType = "CHAIN"
	TypeNewBlock       MessageType = "NEW_BLOCK"
	TypeNewTransaction MessageType = "NEW_TRANSACTION"
)

// Message is one of the protocol messages. The set is closed to the types
// declared in this package.
type Message interface {
	Type() MessageType
	payload() any
}

// RequestGenesis asks a peer for its genesis block.
type RequestGenesis struct{}

// GenesisBlock answers a RequestGenesis.
type GenesisBlock struct {
	Block database.BlockData
}

// Chain carries a full chain.
type Chain struct {
	Blocks []database.BlockData
}

// NewBlock announces a block.
type NewBlock struct {
	Block database.BlockData
}

// NewTransaction announces a pending transaction.
type NewTransaction struct {
	Tx database.TxData
}

// Type implements the Message interface.
func (RequestGenesis) Type() MessageType { return TypeRequestGenesis }

// Type implements the Message interface.
func (GenesisBlock) Type() MessageType { return TypeGenesisBlock }

// Type implements the Message interface.
func (Chain) Type() MessageType { return TypeChain }

// Type implements the Message interface.
func (NewBlock) Type() MessageType { return TypeNewBlock }

// Type implements the Message interface.
func (NewTransaction) Type() MessageType { return TypeNewTransaction }

func (RequestGenesis) payload() any   { return nil }
func (m GenesisBlock) payload() any   { return m.Block }
func (m Chain) payload() any          { return m.Blocks }
func (m NewBlock) payload() any       { return m.Block }
func (m NewTransaction) payload() any { return m.Tx }

// =============================================================================

// envelope is the wire form every message travels in.
type envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode marshals the message into its envelope.
func Encode(msg Message) ([]byte, error) {
	env := envelope{
		Type: msg.Type(),
	}

	if p := msg.payload(); p != nil {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", msg.Type(), err)
		}
		env.Data = data
	}

	return json.Marshal(env)
}

// Decode unmarshals an envelope into its message. An unknown type returns
// ErrUnknownMessage.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}

	switch env.Type {
	case TypeRequestGenesis:
		return RequestGenesis{}, nil

	case TypeGenesisBlock:
		var m GenesisBlock
		if err := decodeData(env, &m.Block); err != nil {
			return nil, err
		}
		return m, nil

	case TypeChain:
		var m Chain
		if err := decodeData(env, &m.Blocks); err != nil {
			return nil, err
		}
		return m, nil

	case TypeNewBlock:
		var m NewBlock
		if err := decodeData(env, &m.Block); err != nil {
			return nil, err
		}
		return m, nil

	case TypeNewTransaction:
		var m NewTransaction
		if err := decodeData(env, &m.Tx); err != nil {
			return nil, err
		}
		return m, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
}

func decodeData(env envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("decoding %s: missing data", env.Type)
	}

	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", env.Type, err)
	}

	return nil
}
