package model

import (
	"fmt"
	"slices"

	"github.com/anomaly-tools/tx-anomaly-detector/entities"
)

const artifactVersion = 1

// Columns in artifact order.
var featureColumns = []string{"tot_out_val", "n_addresses"}

// Pipeline is a fitted scaler and isolation forest. It is read only once loaded and safe for concurrent use.
type Pipeline struct {
	Version      int             `json:"version"`
	FeatureUnit  entities.Unit   `json:"featureUnit"`
	Features     []string        `json:"features"`
	Scaler       MinMaxScaler    `json:"scaler"`
	Forest       IsolationForest `json:"forest"`
	Offset       float64         `json:"offset"`
	TrainingSize int             `json:"trainingSize"`
}

func columns(v entities.FeatureVector) []float64 {
	return []float64{v.TotOutVal, float64(v.NAddresses)}
}

// DecisionFunction is negative for outliers. Larger values are more normal.
func (p *Pipeline) DecisionFunction(v entities.FeatureVector) float64 {
	x := p.Scaler.Transform(columns(v))
	return -p.Forest.AnomalyScore(x) - p.Offset
}

// Score labels every vector, in order. No labels are returned if any vector uses a different unit than the pipeline.
func (p *Pipeline) Score(vectors []entities.FeatureVector) ([]entities.Label, error) {
	for i, v := range vectors {
		if v.Unit != p.FeatureUnit {
			return nil, fmt.Errorf("%w: vector [%d] is in [%s], pipeline expects [%s]", entities.ErrUnitMismatch, i, v.Unit, p.FeatureUnit)
		}
	}

	labels := make([]entities.Label, len(vectors))
	for i, v := range vectors {
		if p.DecisionFunction(v) < 0 {
			labels[i] = entities.LabelOutlier
		} else {
			labels[i] = entities.LabelInlier
		}
	}
	return labels, nil
}

func (p *Pipeline) validate() error {
	if p.Version != artifactVersion {
		return fmt.Errorf("unsupported artifact version [%d]", p.Version)
	}
	if !slices.Equal(p.Features, featureColumns) {
		return fmt.Errorf("unexpected feature columns %v, expected %v", p.Features, featureColumns)
	}
	if p.FeatureUnit != entities.UnitSatoshi && p.FeatureUnit != entities.UnitBTC {
		return fmt.Errorf("unknown feature unit [%s]", p.FeatureUnit)
	}
	dims := len(featureColumns)
	if len(p.Scaler.Min) != dims || len(p.Scaler.Max) != dims {
		return fmt.Errorf("scaler bounds do not match [%d] features", dims)
	}
	err := p.Forest.validate(dims)
	if err != nil {
		return fmt.Errorf("invalid forest: %w", err)
	}
	return nil
}
