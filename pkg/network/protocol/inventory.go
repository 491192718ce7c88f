package protocol

import (
	"encoding/json"

	"github.com/gsc-network/gscnode/pkg/types"
)

// Sync-pipeline message constructors.

// NewGetHeaders requests headers following fromBlock on the
// responder's best chain.
func NewGetHeaders(fromBlock types.Hash, nodeID string) *Message {
	return &Message{Type: CmdGetHeaders, FromBlock: fromBlock, NodeID: nodeID}
}

// NewHeaders builds a headers response.
func NewHeaders(headers []types.BlockHeader) *Message {
	return &Message{Type: CmdHeaders, Headers: headers, Count: len(headers)}
}

// NewGetBlocks requests a block inventory starting at fromHeight.
func NewGetBlocks(fromHeight int, nodeID string) *Message {
	return &Message{Type: CmdGetBlocks, FromHeight: fromHeight, NodeID: nodeID}
}

// NewInv builds a block-inventory response.
func NewInv(blocks []types.Hash) *Message {
	return &Message{Type: CmdInv, Blocks: blocks, Count: len(blocks)}
}

// NewGetData requests one full block by hash.
func NewGetData(hash types.Hash, nodeID string) *Message {
	raw, _ := json.Marshal(string(hash))
	return &Message{Type: CmdGetData, Block: raw, NodeID: nodeID}
}

// NewBlock builds a full-block response.
func NewBlock(block *types.Block) *Message {
	raw, _ := json.Marshal(block)
	return &Message{Type: CmdBlock, Block: raw}
}

// NewMempool requests the responder's mempool contents.
func NewMempool(nodeID string) *Message {
	return &Message{Type: CmdMempool, NodeID: nodeID}
}

// NewTx builds a mempool-transfer response.
func NewTx(txs []types.Transaction) *Message {
	return &Message{Type: CmdTx, Transactions: txs, Count: len(txs)}
}
