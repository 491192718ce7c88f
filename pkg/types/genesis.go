package types

import "time"

// GenesisHash is the well-known hash of the genesis block.
const GenesisHash = ZeroHash

// GenesisHeader builds the fixed genesis header: all-zero hash and
// parent, height 0, difficulty 1.
func GenesisHeader() BlockHeader {
	return BlockHeader{
		Hash:       GenesisHash,
		PrevHash:   ZeroHash,
		MerkleRoot: ZeroHash,
		Timestamp:  time.Now().Unix(),
		Difficulty: 1,
		Nonce:      0,
		Height:     0,
	}
}

// GenesisBlock builds the genesis block with no transactions.
func GenesisBlock() Block {
	return Block{Header: GenesisHeader()}
}
