package storage

import "github.com/gsc-network/gscnode/pkg/types"

// Key prefixes for the chain store records
const (
	// Header data: 'h' + block_hash -> serialized header
	PrefixHeader = 'h'

	// Block data: 'b' + block_hash -> serialized block
	PrefixBlock = 'b'

	// Mempool data: 'm' + tx_id -> serialized transaction
	PrefixMempool = 'm'
)

// HeaderKey creates the key for a header record.
func HeaderKey(hash types.Hash) []byte {
	return prefixed(PrefixHeader, string(hash))
}

// BlockKey creates the key for a full-block record.
func BlockKey(hash types.Hash) []byte {
	return prefixed(PrefixBlock, string(hash))
}

// TxKey creates the key for a mempool transaction record.
func TxKey(txID string) []byte {
	return prefixed(PrefixMempool, txID)
}

func prefixed(prefix byte, suffix string) []byte {
	key := make([]byte, 1+len(suffix))
	key[0] = prefix
	copy(key[1:], suffix)
	return key
}
