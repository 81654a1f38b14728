package decoder

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/anomaly-tools/tx-anomaly-detector/entities"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outpoint struct {
	hash  chainhash.Hash
	index uint32
}

func serialize(t *testing.T, tx *wire.MsgTx) string {
	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	return hex.EncodeToString(buf.Bytes())
}

func buildTx(inputs []outpoint, values ...int64) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	for _, in := range inputs {
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&in.hash, in.index), []byte{0x51}, nil))
	}
	for _, v := range values {
		tx.AddTxOut(wire.NewTxOut(v, []byte{0x51}))
	}
	return tx
}

func TestBitcoin_Decode(t *testing.T) {
	inputs := []outpoint{{hash: chainhash.Hash{0x01}, index: 0}, {hash: chainhash.Hash{0x02}, index: 1}}
	tx := buildTx(inputs, 150_000_000, 250_000_000)
	raw := serialize(t, tx)

	record, valid := NewBitcoin().Decode(raw)
	require.True(t, valid)

	expected := entities.TxRecord{
		ID: tx.TxHash().String(),
		Inputs: []entities.Input{
			{PrevTxID: inputs[0].hash.String(), PrevIndex: 0},
			{PrevTxID: inputs[1].hash.String(), PrevIndex: 1},
		},
		Outputs: []entities.Output{{Value: 150_000_000}, {Value: 250_000_000}},
		Raw:     raw,
		Valid:   true,
		Unit:    entities.UnitSatoshi,
	}
	if diff := cmp.Diff(expected, record); diff != "" {
		t.Fatalf("unexpected record (-want +got):\n%s", diff)
	}
}

func TestBitcoin_Decode_invalid(t *testing.T) {
	valid := serialize(t, buildTx([]outpoint{{hash: chainhash.Hash{0x01}}}, 1000))

	testData := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "not hex", raw: "zz"},
		{name: "truncated", raw: valid[:len(valid)-4]},
		{name: "trailing bytes", raw: valid + "00"},
		{name: "no inputs", raw: serialize(t, buildTx(nil, 1000))},
	}

	for _, td := range testData {
		t.Run(td.name, func(t *testing.T) {
			record, ok := NewBitcoin().Decode(td.raw)
			assert.False(t, ok)
			assert.False(t, record.Valid)
			assert.Empty(t, record.Outputs)
			assert.NotEmpty(t, record.ID)
		})
	}

	record, _ := NewBitcoin().Decode("zz")
	assert.Equal(t, entities.UnknownTxID, record.ID)
	assert.Equal(t, "zz", record.Raw)
}

func TestBitcoin_Decode_insaneKeepsID(t *testing.T) {
	duplicate := outpoint{hash: chainhash.Hash{0x07}, index: 3}

	testData := []struct {
		name string
		tx   *wire.MsgTx
	}{
		{name: "duplicate inputs", tx: buildTx([]outpoint{duplicate, duplicate}, 1000)},
		{name: "negative output", tx: buildTx([]outpoint{duplicate}, -1)},
	}

	for _, td := range testData {
		t.Run(td.name, func(t *testing.T) {
			record, ok := NewBitcoin().Decode(serialize(t, td.tx))
			assert.False(t, ok)
			assert.Equal(t, td.tx.TxHash().String(), record.ID)
		})
	}
}
