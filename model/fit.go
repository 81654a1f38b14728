package model

import (
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sort"

	"github.com/anomaly-tools/tx-anomaly-detector/entities"
	"gonum.org/v1/gonum/stat"
)

// FitConfig configures training. Contamination is the expected share of outliers in (0, 0.5].
// Zero selects the fixed offset of the original isolation forest paper.
type FitConfig struct {
	Trees         int
	SampleSize    int
	Contamination float64
	Seed          int64
}

func DefaultFitConfig() FitConfig {
	return FitConfig{Trees: 100, SampleSize: 256, Contamination: 0.001, Seed: 42}
}

// Fit trains a pipeline on satoshi denominated feature vectors.
func Fit(vectors []entities.FeatureVector, cfg FitConfig) (*Pipeline, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no training data")
	}
	if cfg.Trees <= 0 || cfg.SampleSize <= 0 {
		return nil, fmt.Errorf("invalid forest size: trees [%d], sample size [%d]", cfg.Trees, cfg.SampleSize)
	}
	if cfg.Contamination < 0 || cfg.Contamination > 0.5 || math.IsNaN(cfg.Contamination) {
		return nil, fmt.Errorf("invalid contamination [%v]: must be in [0, 0.5]", cfg.Contamination)
	}

	rows := make([][]float64, len(vectors))
	for i, v := range vectors {
		if v.Unit != entities.UnitSatoshi {
			return nil, fmt.Errorf("%w: training vector [%d] is in [%s]", entities.ErrUnitMismatch, i, v.Unit)
		}
		rows[i] = columns(v)
	}

	scaler := fitScaler(rows)
	scaled := make([][]float64, len(rows))
	for i, row := range rows {
		scaled[i] = scaler.Transform(row)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	sampleSize := min(cfg.SampleSize, len(scaled))
	maxDepth := int(math.Ceil(math.Log2(float64(max(sampleSize, 2)))))

	forest := IsolationForest{SampleSize: sampleSize, Trees: make([]Tree, cfg.Trees)}
	for t := range forest.Trees {
		sample := make([][]float64, sampleSize)
		for i, idx := range rng.Perm(len(scaled))[:sampleSize] {
			sample[i] = scaled[idx]
		}
		forest.Trees[t] = buildTree(rng, sample, maxDepth)
	}

	p := &Pipeline{
		Version:      artifactVersion,
		FeatureUnit:  entities.UnitSatoshi,
		Features:     slices.Clone(featureColumns),
		Scaler:       scaler,
		Forest:       forest,
		Offset:       -0.5,
		TrainingSize: len(vectors),
	}

	if cfg.Contamination > 0 {
		scores := make([]float64, len(scaled))
		for i, x := range scaled {
			scores[i] = -forest.AnomalyScore(x)
		}
		p.Offset = quantile(scores, cfg.Contamination)
	}

	return p, nil
}

// quantile interpolates linearly on the empirical distribution of values, q in [0, 1].
func quantile(values []float64, q float64) float64 {
	sorted := slices.Clone(values)
	sort.Float64s(sorted)
	return stat.Quantile(q, stat.LinInterp, sorted, nil)
}
