package domain

import (
	"math"

	"github.com/anomaly-tools/tx-anomaly-detector/entities"
	"github.com/btcsuite/btcd/btcutil"
)

const (
	invalidMessage = "Transaction is not valid"
	inlierMessage  = ""
	outlierMessage = "We believe this transaction is anomalous, and is therefore suspicious. Check your input and output addresses, and the value transferred."
)

// Classify partitions a scored batch into invalid, inlier and outlier reports, keeping batch order within each group.
// Records without a label are reported as invalid.
func Classify(batch []entities.ScoredTx) entities.Classification {
	c := entities.Classification{
		Invalid:  make([]entities.Report, 0),
		Inliers:  make([]entities.Report, 0),
		Outliers: make([]entities.Report, 0),
	}

	for _, scored := range batch {
		if !scored.Tx.Valid {
			c.Invalid = append(c.Invalid, invalidReport(scored.Tx))
			continue
		}

		switch scored.Label {
		case entities.LabelOutlier:
			c.Outliers = append(c.Outliers, scoredReport(scored, entities.ActionWarn, entities.SeverityCritical, outlierMessage))
		case entities.LabelInlier:
			c.Inliers = append(c.Inliers, scoredReport(scored, entities.ActionNone, entities.SeverityLow, inlierMessage))
		default:
			c.Invalid = append(c.Invalid, invalidReport(scored.Tx))
		}
	}

	return c
}

func invalidReport(tx entities.TxRecord) entities.Report {
	return entities.Report{
		TransactionHex:  tx.Raw,
		TransactionHash: txHash(tx),
		Action:          entities.ActionInvalid,
		Severity:        entities.SeverityLow,
		Message:         invalidMessage,
	}
}

func scoredReport(scored entities.ScoredTx, action entities.Action, severity entities.Severity, message string) entities.Report {
	sat := int64(math.Round(scored.Features.TotOutVal))
	return entities.Report{
		TransactionHex:  scored.Tx.Raw,
		TransactionHash: txHash(scored.Tx),
		Action:          action,
		Severity:        severity,
		Message:         message,
		Features: &entities.FeatureSummary{
			NumberOfAddresses: scored.Features.NAddresses,
			TotalOutValue:     sat,
			TotalOutValueBtc:  btcutil.Amount(sat).ToBTC(),
		},
	}
}

func txHash(tx entities.TxRecord) string {
	if tx.ID == "" {
		return entities.UnknownTxID
	}
	return tx.ID
}
