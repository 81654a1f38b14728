package decoder

import (
	"encoding/hex"
	"encoding/json"
	"math"

	"github.com/anomaly-tools/tx-anomaly-detector/entities"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

type esploraTx struct {
	TxID string `json:"txid"`
	Vin  []struct {
		TxID string `json:"txid"`
		Vout uint32 `json:"vout"`
	} `json:"vin"`
	Vout []struct {
		Value *float64 `json:"value"`
	} `json:"vout"`
}

// Esplora decodes the JSON transactions of esplora block pages. Output values are satoshi.
type Esplora struct{}

func NewEsplora() *Esplora {
	return &Esplora{}
}

// Decode accepts any transaction with a well formed id. An output without value is kept as NaN
// so the total output value of the transaction is treated as malformed.
func (d *Esplora) Decode(raw string) (entities.TxRecord, bool) {
	invalid := entities.TxRecord{ID: entities.UnknownTxID, Raw: raw, Unit: entities.UnitSatoshi}

	var tx esploraTx
	err := json.Unmarshal([]byte(raw), &tx)
	if err != nil {
		return invalid, false
	}
	if !isTxID(tx.TxID) {
		if tx.TxID != "" {
			invalid.ID = tx.TxID
		}
		return invalid, false
	}

	record := entities.TxRecord{
		ID:      tx.TxID,
		Inputs:  make([]entities.Input, 0, len(tx.Vin)),
		Outputs: make([]entities.Output, 0, len(tx.Vout)),
		Raw:     raw,
		Valid:   true,
		Unit:    entities.UnitSatoshi,
	}
	for _, in := range tx.Vin {
		record.Inputs = append(record.Inputs, entities.Input{PrevTxID: in.TxID, PrevIndex: in.Vout})
	}
	for _, out := range tx.Vout {
		value := math.NaN()
		if out.Value != nil {
			value = *out.Value
		}
		record.Outputs = append(record.Outputs, entities.Output{Value: value})
	}
	return record, true
}

func isTxID(id string) bool {
	if len(id) != chainhash.MaxHashStringSize {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}
