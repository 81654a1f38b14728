package domain

import (
	"math"

	"github.com/anomaly-tools/tx-anomaly-detector/entities"
	"github.com/btcsuite/btcd/btcutil"
)

// Extract derives the feature vector of a transaction. BTC values are converted to satoshi. A record in any
// other unit keeps its unit and value, so scoring rejects it. If any output value is malformed the total
// output value is 0.
func Extract(tx entities.TxRecord) entities.FeatureVector {
	unit := tx.Unit
	if unit == entities.UnitBTC {
		unit = entities.UnitSatoshi
	}
	return entities.FeatureVector{
		NAddresses: len(tx.Inputs) + len(tx.Outputs),
		TotOutVal:  totalOutputValue(tx),
		Unit:       unit,
	}
}

func ExtractAll(records []entities.TxRecord) []entities.FeatureVector {
	vectors := make([]entities.FeatureVector, len(records))
	for i, record := range records {
		vectors[i] = Extract(record)
	}
	return vectors
}

func totalOutputValue(tx entities.TxRecord) float64 {
	var total float64
	for _, out := range tx.Outputs {
		if math.IsNaN(out.Value) || math.IsInf(out.Value, 0) || out.Value < 0 {
			return 0
		}
		total += out.Value
	}

	if tx.Unit != entities.UnitBTC {
		return total
	}

	amount, err := btcutil.NewAmount(total)
	if err != nil {
		return 0
	}
	return float64(amount)
}
