package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/anomaly-tools/tx-anomaly-detector/entities"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Scorer labels feature vectors one to one and in order. Implementations must not mutate state while scoring.
type Scorer interface {
	Score(vectors []entities.FeatureVector) ([]entities.Label, error)
}

type Publisher interface {
	PublishReports(ctx context.Context, reports []entities.Report) error
}

// BlockSource is the part of the chain source needed to score the transactions of the latest block.
type BlockSource interface {
	LatestBlockHash(ctx context.Context) (string, error)
	BlockTxIDs(ctx context.Context, blockHash string) ([]string, error)
	RawTx(ctx context.Context, txID string) (string, error)
}

type statusStore interface {
	SetScanStatus(status entities.ScanStatus) error
	AddScannedHeights(heights []uint64) error
}

type Detector struct {
	walker         *ChainWalker
	blocks         BlockSource
	rawDecoder     Decoder
	scorer         Scorer
	publishers     []Publisher
	publishTimeout time.Duration
	statusStore    statusStore
	logger         *zap.SugaredLogger
	metrics        *Metrics
}

func NewDetector(
	walker *ChainWalker,
	blocks BlockSource,
	rawDecoder Decoder,
	scorer Scorer,
	publishers []Publisher,
	publishTimeout time.Duration,
	statusStore statusStore,
	logger *zap.SugaredLogger,
	metrics *Metrics,
) *Detector {
	return &Detector{
		walker:         walker,
		blocks:         blocks,
		rawDecoder:     rawDecoder,
		scorer:         scorer,
		publishers:     publishers,
		publishTimeout: publishTimeout,
		statusStore:    statusStore,
		logger:         logger,
		metrics:        metrics,
	}
}

// Start scans and scores every interval until the context is cancelled. Failed cycles are logged and retried on the next tick.
func (d *Detector) Start(ctx context.Context, n int, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, err := d.ScanAndScore(ctx, n)
		if err != nil {
			d.logger.Errorw("error running scan cycle", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ScanAndScore collects at least n recent transactions, scores, classifies and publishes them.
func (d *Detector) ScanAndScore(ctx context.Context, n int) (entities.Classification, error) {
	result, err := d.walker.Collect(ctx, n)
	if err != nil {
		d.metrics.IncFailedScans()
		return entities.Classification{}, fmt.Errorf("collecting transactions: %w", err)
	}

	classification, err := d.evaluateAndPublish(ctx, result.Records)
	if err != nil {
		return classification, err
	}

	err = d.recordScan(result, classification)
	if err != nil {
		return classification, fmt.Errorf("recording scan status: %w", err)
	}

	d.logger.Infow("Scan finished", "tip", result.Tip.Height, "transactions", len(result.Records),
		"invalid", len(classification.Invalid), "inliers", len(classification.Inliers), "outliers", len(classification.Outliers))
	return classification, nil
}

// ScoreLatestBlock scores the first n transactions of the latest block, fetching each one's raw encoding.
func (d *Detector) ScoreLatestBlock(ctx context.Context, n int) (entities.Classification, error) {
	if n <= 0 {
		return entities.Classification{}, fmt.Errorf("invalid transaction count [%d]: must be positive", n)
	}

	hash, err := d.blocks.LatestBlockHash(ctx)
	if err != nil {
		return entities.Classification{}, fmt.Errorf("getting latest block hash: %w", err)
	}

	ids, err := d.blocks.BlockTxIDs(ctx, hash)
	if err != nil {
		return entities.Classification{}, fmt.Errorf("getting transaction ids of block [%s]: %w", hash, err)
	}
	ids = ids[:min(n, len(ids))]

	records := make([]entities.TxRecord, 0, len(ids))
	for _, id := range ids {
		raw, err := d.blocks.RawTx(ctx, id)
		if err != nil {
			return entities.Classification{}, fmt.Errorf("getting raw transaction [%s]: %w", id, err)
		}
		records = append(records, d.decode(raw))
	}

	d.logger.Infow("Scoring latest block", "hash", hash, "transactions", len(records))
	return d.evaluateAndPublish(ctx, records)
}

// ScoreRawTransactions decodes and scores caller supplied raw transactions.
func (d *Detector) ScoreRawTransactions(ctx context.Context, raws []string) (entities.Classification, error) {
	records := make([]entities.TxRecord, 0, len(raws))
	for _, raw := range raws {
		records = append(records, d.decode(raw))
	}
	return d.evaluateAndPublish(ctx, records)
}

// Evaluate scores all valid records. Invalid records are passed through unlabeled.
func (d *Detector) Evaluate(records []entities.TxRecord) ([]entities.ScoredTx, error) {
	scored := make([]entities.ScoredTx, len(records))
	var vectors []entities.FeatureVector
	var positions []int
	for i, record := range records {
		scored[i] = entities.ScoredTx{Tx: record, Label: entities.LabelNone}
		if !record.Valid {
			continue
		}
		features := Extract(record)
		scored[i].Features = features
		vectors = append(vectors, features)
		positions = append(positions, i)
	}

	if len(vectors) == 0 {
		return scored, nil
	}

	labels, err := d.scorer.Score(vectors)
	if err != nil {
		return nil, fmt.Errorf("scoring [%d] feature vectors: %w", len(vectors), err)
	}
	if len(labels) != len(vectors) {
		return nil, fmt.Errorf("scorer returned [%d] labels for [%d] feature vectors", len(labels), len(vectors))
	}

	for i, pos := range positions {
		scored[pos].Label = labels[i]
	}
	return scored, nil
}

func (d *Detector) decode(raw string) entities.TxRecord {
	record, valid := d.rawDecoder.Decode(raw)
	if !valid {
		d.metrics.IncDecodeFailures()
	}
	if record.ID == "" {
		record.ID = entities.UnknownTxID
	}
	return record
}

func (d *Detector) evaluateAndPublish(ctx context.Context, records []entities.TxRecord) (entities.Classification, error) {
	scored, err := d.Evaluate(records)
	if err != nil {
		return entities.Classification{}, err
	}

	classification := Classify(scored)
	d.metrics.AddClassified(string(entities.ActionInvalid), len(classification.Invalid))
	d.metrics.AddClassified(string(entities.ActionNone), len(classification.Inliers))
	d.metrics.AddClassified(string(entities.ActionWarn), len(classification.Outliers))

	err = d.publish(ctx, classification.All())
	if err != nil {
		return classification, fmt.Errorf("publishing reports: %w", err)
	}
	return classification, nil
}

func (d *Detector) publish(ctx context.Context, reports []entities.Report) error {
	if len(reports) == 0 || len(d.publishers) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.publishTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, publisher := range d.publishers {
		g.Go(func() error {
			return publisher.PublishReports(gctx, reports)
		})
	}
	return g.Wait()
}

func (d *Detector) recordScan(result entities.ScanResult, classification entities.Classification) error {
	status := entities.ScanStatus{
		Tip:        result.Tip,
		Quota:      result.Quota,
		Blocks:     len(result.Visited),
		Invalid:    len(classification.Invalid),
		Inliers:    len(classification.Inliers),
		Outliers:   len(classification.Outliers),
		FinishedAt: time.Now().UTC(),
	}
	if len(result.Visited) > 0 {
		status.LowestHeight = result.Visited[len(result.Visited)-1]
	}

	err := d.statusStore.AddScannedHeights(result.Visited)
	if err != nil {
		return fmt.Errorf("storing scanned heights: %w", err)
	}
	err = d.statusStore.SetScanStatus(status)
	if err != nil {
		return fmt.Errorf("storing scan status: %w", err)
	}

	d.metrics.SetLastScan(status.FinishedAt.Unix())
	return nil
}
