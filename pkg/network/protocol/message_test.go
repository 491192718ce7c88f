package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gsc-network/gscnode/pkg/types"
)

func TestSerializeRoundTrip(t *testing.T) {
	msg := NewVersion("ab12cd34", 5001)

	frame, err := msg.Serialize()
	require.NoError(t, err)

	decoded, err := Deserialize(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, CmdVersion, decoded.Type)
	assert.Equal(t, "ab12cd34", decoded.NodeID)
	assert.Equal(t, 5001, decoded.Port)
}

func TestFramePreservesBoundaries(t *testing.T) {
	// Two coalesced frames on one stream decode as two messages.
	var stream bytes.Buffer
	for _, msg := range []*Message{NewPing("n1"), NewGetAddr("n1")} {
		frame, err := msg.Serialize()
		require.NoError(t, err)
		stream.Write(frame)
	}

	first, err := Deserialize(&stream)
	require.NoError(t, err)
	assert.Equal(t, CmdPing, first.Type)

	second, err := Deserialize(&stream)
	require.NoError(t, err)
	assert.Equal(t, CmdGetAddr, second.Type)
}

func TestBlockFieldCarriesHashOrBlock(t *testing.T) {
	hash := types.Hash("00aa") // shape is irrelevant to the codec

	getdata := NewGetData(hash, "n1")
	frame, err := getdata.Serialize()
	require.NoError(t, err)
	decoded, err := Deserialize(bytes.NewReader(frame))
	require.NoError(t, err)

	got, err := decoded.BlockHash()
	require.NoError(t, err)
	assert.Equal(t, hash, got)

	block := &types.Block{
		Header: types.BlockHeader{
			Hash:       types.ZeroHash,
			PrevHash:   types.ZeroHash,
			MerkleRoot: types.ZeroHash,
			Difficulty: 1,
		},
		Transactions: []types.Transaction{
			{TxID: "tx1", Sender: "a", Receiver: "b", Amount: 1.5, Timestamp: 1700000000},
		},
	}
	blockMsg := NewBlock(block)
	frame, err = blockMsg.Serialize()
	require.NoError(t, err)
	decoded, err = Deserialize(bytes.NewReader(frame))
	require.NoError(t, err)

	full, err := decoded.FullBlock()
	require.NoError(t, err)
	assert.Equal(t, block.Header.Hash, full.Header.Hash)
	require.Len(t, full.Transactions, 1)
	assert.Equal(t, "tx1", full.Transactions[0].TxID)

	// The hash accessor must not succeed on a full block payload.
	_, err = decoded.BlockHash()
	assert.Error(t, err)
}

func TestDeserializeRejectsBadFrames(t *testing.T) {
	// Truncated payload.
	frame, err := NewPing("n1").Serialize()
	require.NoError(t, err)
	_, err = Deserialize(bytes.NewReader(frame[:len(frame)-2]))
	assert.Error(t, err)

	// Oversized length prefix.
	var oversized [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(oversized[:], MaxPayloadSize+1)
	_, err = Deserialize(bytes.NewReader(oversized[:]))
	assert.Error(t, err)

	// Zero-length payload.
	var empty [LengthPrefixSize]byte
	_, err = Deserialize(bytes.NewReader(empty[:]))
	assert.Error(t, err)

	// Valid frame, payload is not JSON.
	junk := []byte{0, 0, 0, 3, 'x', 'y', 'z'}
	_, err = Deserialize(bytes.NewReader(junk))
	assert.Error(t, err)

	// Valid JSON without a type tag.
	payload := []byte(`{"node_id":"n1"}`)
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(len(payload)))
	buf.Write(payload)
	_, err = Deserialize(&buf)
	assert.Error(t, err)
}

func TestUnusedFieldsStayOffTheWire(t *testing.T) {
	frame, err := NewPing("n1").Serialize()
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(frame[LengthPrefixSize:], &raw))
	assert.Equal(t, "ping", raw["type"])
	_, hasPeers := raw["peers"]
	assert.False(t, hasPeers)
	_, hasHeaders := raw["headers"]
	assert.False(t, hasHeaders)
}
