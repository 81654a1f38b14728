package decoder

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/anomaly-tools/tx-anomaly-detector/entities"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// Bitcoin decodes hex encoded, network serialized bitcoin transactions (segwit included).
type Bitcoin struct{}

func NewBitcoin() *Bitcoin {
	return &Bitcoin{}
}

// Decode parses and sanity checks a raw transaction. Values are reported in satoshi.
// Transactions that parse but fail the sanity check keep their id.
func (d *Bitcoin) Decode(raw string) (entities.TxRecord, bool) {
	raw = strings.TrimSpace(raw)
	invalid := entities.TxRecord{ID: entities.UnknownTxID, Raw: raw, Unit: entities.UnitSatoshi}

	data, err := hex.DecodeString(raw)
	if err != nil || len(data) == 0 {
		return invalid, false
	}

	reader := bytes.NewReader(data)
	var msgTx wire.MsgTx
	err = msgTx.Deserialize(reader)
	if err != nil || reader.Len() != 0 {
		return invalid, false
	}

	tx := btcutil.NewTx(&msgTx)
	invalid.ID = tx.Hash().String()
	err = blockchain.CheckTransactionSanity(tx)
	if err != nil {
		return invalid, false
	}

	record := entities.TxRecord{
		ID:      tx.Hash().String(),
		Inputs:  make([]entities.Input, 0, len(msgTx.TxIn)),
		Outputs: make([]entities.Output, 0, len(msgTx.TxOut)),
		Raw:     raw,
		Valid:   true,
		Unit:    entities.UnitSatoshi,
	}
	for _, in := range msgTx.TxIn {
		record.Inputs = append(record.Inputs, entities.Input{
			PrevTxID:  in.PreviousOutPoint.Hash.String(),
			PrevIndex: in.PreviousOutPoint.Index,
		})
	}
	for _, out := range msgTx.TxOut {
		record.Outputs = append(record.Outputs, entities.Output{Value: float64(out.Value)})
	}
	return record, true
}
