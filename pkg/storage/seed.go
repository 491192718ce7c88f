package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/gsc-network/gscnode/pkg/types"
)

// SeedChain extends the chain with blockCount deterministic blocks of
// two transactions each and adds txCount mempool transactions. Used by
// demos and tests that need a node with data to serve.
func SeedChain(s *ChainStore, blockCount, txCount int) error {
	prev := s.Tip()
	base := s.Height()
	now := time.Now().Unix()

	for i := 1; i <= blockCount; i++ {
		height := base + i
		hash := deriveHash("block", height, prev)

		header := types.BlockHeader{
			Hash:       hash,
			PrevHash:   prev,
			MerkleRoot: deriveHash("merkle", height, prev),
			Timestamp:  now,
			Difficulty: 1,
			Nonce:      int64(height * 7919),
			Height:     height,
		}

		txs := make([]types.Transaction, 0, 2)
		for j := 0; j < 2; j++ {
			txs = append(txs, types.Transaction{
				TxID:      fmt.Sprintf("tx_%d_%d", height, j),
				Sender:    fmt.Sprintf("addr_%d", height*10+j),
				Receiver:  fmt.Sprintf("addr_%d", height*10+j+1),
				Amount:    float64(height) + float64(j)/10,
				Timestamp: now,
			})
		}

		if _, err := s.AddHeader(header); err != nil {
			return fmt.Errorf("failed to seed header %d: %w", height, err)
		}
		if _, err := s.AddBlock(types.Block{Header: header, Transactions: txs}); err != nil {
			return fmt.Errorf("failed to seed block %d: %w", height, err)
		}
		prev = hash
	}

	for i := 0; i < txCount; i++ {
		tx := types.Transaction{
			TxID:      fmt.Sprintf("mempool_tx_%d", i),
			Sender:    fmt.Sprintf("addr_%d", 100+i),
			Receiver:  fmt.Sprintf("addr_%d", 200+i),
			Amount:    1 + float64(i),
			Timestamp: now,
		}
		if _, err := s.AddTx(tx); err != nil {
			return fmt.Errorf("failed to seed transaction %d: %w", i, err)
		}
	}
	return nil
}

func deriveHash(kind string, height int, prev types.Hash) types.Hash {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%d_%s", kind, height, prev)))
	return types.Hash(hex.EncodeToString(sum[:]))
}
