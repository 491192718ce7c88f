package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/gsc-network/gscnode/pkg/types"
)

// Wire format: [Length (4, big-endian)] [Payload (UTF-8 JSON object)]
//
// The payload is a JSON object with a mandatory "type" tag and
// type-specific fields. Length-prefixed framing keeps message
// boundaries intact under TCP coalescing and fragmentation; every node
// in a fleet must speak the same framing.

const (
	// MaxPayloadSize bounds a single message payload (4MB).
	MaxPayloadSize = 4 * 1024 * 1024

	// LengthPrefixSize is the size of the frame header.
	LengthPrefixSize = 4
)

// Message types
const (
	CmdVersion    = "version"
	CmdVerAck     = "verack"
	CmdPing       = "ping"
	CmdPong       = "pong"
	CmdGetAddr    = "getaddr"
	CmdAddr       = "addr"
	CmdGetHeaders = "getheaders"
	CmdHeaders    = "headers"
	CmdGetBlocks  = "getblocks"
	CmdInv        = "inv"
	CmdGetData    = "getdata"
	CmdBlock      = "block"
	CmdMempool    = "mempool"
	CmdTx         = "tx"
)

// Protocol limits
const (
	// MaxHeadersPerMsg caps a headers response.
	MaxHeadersPerMsg = 2000

	// MaxInvPerMsg caps an inv response.
	MaxInvPerMsg = 500

	// MaxAddrPerMsg caps an addr response.
	MaxAddrPerMsg = 10
)

// Message is the wire envelope. Type selects which of the remaining
// fields are meaningful; unused fields are omitted on the wire. The
// "block" field is raw because getdata carries a bare hash under that
// name while a block message carries a full block object.
type Message struct {
	Type string `json:"type"`

	NodeID string `json:"node_id,omitempty"`
	Port   int    `json:"port,omitempty"`

	Peers []string `json:"peers,omitempty"`
	Count int      `json:"count,omitempty"`

	FromBlock  types.Hash          `json:"from_block,omitempty"`
	Headers    []types.BlockHeader `json:"headers,omitempty"`
	FromHeight int                 `json:"from_height,omitempty"`
	Blocks     []types.Hash        `json:"blocks,omitempty"`
	Block      json.RawMessage     `json:"block,omitempty"`

	Transactions []types.Transaction `json:"transactions,omitempty"`
}

// BlockHash decodes the "block" field of a getdata message.
func (m *Message) BlockHash() (types.Hash, error) {
	var s string
	if err := json.Unmarshal(m.Block, &s); err != nil {
		return "", fmt.Errorf("failed to decode block hash: %w", err)
	}
	return types.Hash(s), nil
}

// FullBlock decodes the "block" field of a block message.
func (m *Message) FullBlock() (*types.Block, error) {
	var b types.Block
	if err := json.Unmarshal(m.Block, &b); err != nil {
		return nil, fmt.Errorf("failed to decode block: %w", err)
	}
	return &b, nil
}

// Serialize converts the message to a length-prefixed frame.
func (m *Message) Serialize() ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes", len(payload))
	}

	frame := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame[:LengthPrefixSize], uint32(len(payload)))
	copy(frame[LengthPrefixSize:], payload)
	return frame, nil
}

// Deserialize reads a single framed message from r. io.EOF on a clean
// frame boundary means the peer closed the connection.
func Deserialize(r io.Reader) (*Message, error) {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}

	payloadLen := binary.BigEndian.Uint32(prefix[:])
	if payloadLen == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	if payloadLen > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes", payloadLen)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	msg := &Message{}
	if err := json.Unmarshal(payload, msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message missing type tag")
	}
	return msg, nil
}

func (m *Message) String() string {
	return fmt.Sprintf("Message{Type: %s}", m.Type)
}
