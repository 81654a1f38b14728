package domain

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/anomaly-tools/tx-anomaly-detector/entities"
	"github.com/anomaly-tools/tx-anomaly-detector/infrastructure/store/pebbledb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockScorer flags every vector with more than ten addresses.
type MockScorer struct {
	shouldError bool
	scored      int
}

func (ms *MockScorer) Score(vectors []entities.FeatureVector) ([]entities.Label, error) {
	if ms.shouldError {
		return nil, fmt.Errorf("%w: mock", entities.ErrUnitMismatch)
	}
	ms.scored += len(vectors)

	labels := make([]entities.Label, len(vectors))
	for i, v := range vectors {
		labels[i] = entities.LabelInlier
		if v.NAddresses > 10 {
			labels[i] = entities.LabelOutlier
		}
	}
	return labels, nil
}

type MockPublisher struct {
	published   []entities.Report
	shouldError bool
	locker      sync.Mutex
}

func (mp *MockPublisher) PublishReports(_ context.Context, reports []entities.Report) error {
	if mp.shouldError {
		return ErrMock
	}
	mp.locker.Lock()
	mp.published = append(mp.published, reports...)
	mp.locker.Unlock()
	return nil
}

func newTestStore(t *testing.T) *pebbledb.Store {
	dbDir, err := os.MkdirTemp("", "pebble_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dbDir) })

	store, err := pebbledb.NewScanStore(dbDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestDetector(t *testing.T, source *MockChainSource, scorer Scorer, publishers ...Publisher) (*Detector, *pebbledb.Store) {
	logger := newTestLogger(t)
	store := newTestStore(t)
	walker := NewChainWalker(source, MockDecoder{}, WalkerConfig{}, logger, metrics)
	return NewDetector(walker, source, MockDecoder{}, scorer, publishers, time.Second, store, logger, metrics), store
}

func TestDetector_ScanAndScore(t *testing.T) {
	source := &MockChainSource{tip: 100, blocks: map[uint64][]string{
		99: {"99-0", "big-99-1", "bad:99-2"},
		98: {"98-0", "98-1"},
	}}
	first, second := &MockPublisher{}, &MockPublisher{}
	detector, store := newTestDetector(t, source, &MockScorer{}, first, second)

	got, err := detector.ScanAndScore(context.Background(), 4)
	require.NoError(t, err)

	require.Len(t, got.Invalid, 1)
	require.Len(t, got.Inliers, 3)
	require.Len(t, got.Outliers, 1)
	assert.Equal(t, "99-2", got.Invalid[0].TransactionHash)
	assert.Equal(t, "big-99-1", got.Outliers[0].TransactionHash)
	assert.Equal(t, 21, got.Outliers[0].Features.NumberOfAddresses)
	assert.Equal(t, int64(20_000_000), got.Outliers[0].Features.TotalOutValue)

	assert.Len(t, first.published, 5)
	assert.Len(t, second.published, 5)

	status, err := store.GetScanStatus()
	require.NoError(t, err)
	assert.Equal(t, entities.BlockRef{Height: 100, Hash: "hash-100"}, status.Tip)
	assert.Equal(t, entities.ScanQuota{Requested: 4, Collected: 5}, status.Quota)
	assert.Equal(t, uint64(98), status.LowestHeight)
	assert.Equal(t, 2, status.Blocks)
	assert.Equal(t, 1, status.Outliers)

	heights, err := store.GetScannedHeights()
	require.NoError(t, err)
	assert.Equal(t, []uint64{98, 99}, heights)
}

func TestDetector_ScanAndScore_walkerError(t *testing.T) {
	source := &MockChainSource{tip: 10, misaligned: true}
	publisher := &MockPublisher{}
	detector, store := newTestDetector(t, source, &MockScorer{}, publisher)

	_, err := detector.ScanAndScore(context.Background(), 4)
	require.ErrorIs(t, err, entities.ErrPaginationProtocol)
	assert.Empty(t, publisher.published)

	_, err = store.GetScanStatus()
	assert.ErrorIs(t, err, entities.ErrStoreEntityNotFound)
}

func TestDetector_ScoreRawTransactions(t *testing.T) {
	scorer := &MockScorer{}
	publisher := &MockPublisher{}
	detector, _ := newTestDetector(t, &MockChainSource{}, scorer, publisher)

	got, err := detector.ScoreRawTransactions(context.Background(), []string{"tx-1", "bad", "big-tx"})
	require.NoError(t, err)

	assert.Equal(t, 3, got.Len())
	assert.Equal(t, 2, scorer.scored) // invalid transactions are never scored
	require.Len(t, got.Invalid, 1)
	assert.Equal(t, entities.UnknownTxID, got.Invalid[0].TransactionHash)
	assert.Equal(t, "bad", got.Invalid[0].TransactionHex)
	assert.Len(t, publisher.published, 3)
}

func TestDetector_ScoreLatestBlock(t *testing.T) {
	source := &MockChainSource{tip: 100, blocks: map[uint64][]string{
		100: {"tx-1", "tx-2", "tx-3"},
	}}
	detector, _ := newTestDetector(t, source, &MockScorer{})

	got, err := detector.ScoreLatestBlock(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"tx-1", "tx-2"}, source.rawRequests)
	require.Len(t, got.Inliers, 2)
	assert.Equal(t, "raw-tx-1", got.Inliers[0].TransactionHex)

	_, err = detector.ScoreLatestBlock(context.Background(), 0)
	require.Error(t, err)
}

func TestDetector_errors(t *testing.T) {

	t.Run("scorer error", func(t *testing.T) {
		publisher := &MockPublisher{}
		detector, _ := newTestDetector(t, &MockChainSource{}, &MockScorer{shouldError: true}, publisher)

		_, err := detector.ScoreRawTransactions(context.Background(), []string{"tx-1"})
		require.ErrorIs(t, err, entities.ErrUnitMismatch)
		assert.Empty(t, publisher.published)
	})

	t.Run("publisher error", func(t *testing.T) {
		ok, failing := &MockPublisher{}, &MockPublisher{shouldError: true}
		detector, _ := newTestDetector(t, &MockChainSource{}, &MockScorer{}, ok, failing)

		got, err := detector.ScoreRawTransactions(context.Background(), []string{"tx-1"})
		require.ErrorIs(t, err, ErrMock)
		assert.Equal(t, 1, got.Len())
	})

	t.Run("only invalid transactions skip scoring", func(t *testing.T) {
		detector, _ := newTestDetector(t, &MockChainSource{}, &MockScorer{shouldError: true})

		got, err := detector.ScoreRawTransactions(context.Background(), []string{"bad-1", "bad-2"})
		require.NoError(t, err)
		assert.Len(t, got.Invalid, 2)
	})
}

func TestDetector_Evaluate_keepsOrder(t *testing.T) {
	detector, _ := newTestDetector(t, &MockChainSource{}, &MockScorer{})

	records := []entities.TxRecord{
		{ID: "a", Valid: true, Outputs: make([]entities.Output, 12), Unit: entities.UnitSatoshi},
		{ID: "b"},
		{ID: "c", Valid: true, Outputs: make([]entities.Output, 1), Unit: entities.UnitSatoshi},
	}

	scored, err := detector.Evaluate(records)
	require.NoError(t, err)
	require.Len(t, scored, 3)
	assert.Equal(t, entities.LabelOutlier, scored[0].Label)
	assert.Equal(t, entities.LabelNone, scored[1].Label)
	assert.Equal(t, entities.LabelInlier, scored[2].Label)
	assert.Equal(t, "c", scored[2].Tx.ID)
}

func TestDetector_Start_stopsOnCancel(t *testing.T) {
	source := &MockChainSource{tip: 100, blocks: map[uint64][]string{99: payloads(99, 2)}}
	publisher := &MockPublisher{}
	detector, _ := newTestDetector(t, source, &MockScorer{}, publisher)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := detector.Start(ctx, 2, time.Hour)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	publisher.locker.Lock()
	defer publisher.locker.Unlock()
	assert.Len(t, publisher.published, 2)
}
