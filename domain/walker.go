package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/anomaly-tools/tx-anomaly-detector/entities"
	"go.uber.org/zap"
)

// PageSize is fixed by the chain source. Offsets that are not a multiple of it are rejected.
const PageSize = 25

// DefaultMaxPages bounds paging of a single block (800 pages ~ 20.000 transactions).
const DefaultMaxPages = 800

type ChainSource interface {
	LatestBlockHash(ctx context.Context) (string, error)
	LatestBlockHeight(ctx context.Context) (uint64, error)
	BlockHash(ctx context.Context, height uint64) (string, error)
	BlockTxPage(ctx context.Context, blockHash string, offset int) ([]entities.RawTx, error)
	RawTx(ctx context.Context, txID string) (string, error)
}

// Decoder turns an encoded transaction into a record. It never fails, malformed input is reported as not valid.
type Decoder interface {
	Decode(raw string) (entities.TxRecord, bool)
}

type WalkerConfig struct {
	MaxPages int
	// FetchRawHex fetches the raw encoding of every paged transaction and decodes that instead of the page payload.
	FetchRawHex bool
}

type ChainWalker struct {
	source      ChainSource
	decoder     Decoder
	maxPages    int
	fetchRawHex bool
	logger      *zap.SugaredLogger
	metrics     *Metrics
}

func NewChainWalker(source ChainSource, decoder Decoder, cfg WalkerConfig, logger *zap.SugaredLogger, metrics *Metrics) *ChainWalker {
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &ChainWalker{
		source:      source,
		decoder:     decoder,
		maxPages:    maxPages,
		fetchRawHex: cfg.FetchRawHex,
		logger:      logger,
		metrics:     metrics,
	}
}

type walkState int

const (
	stateScanning walkState = iota
	statePagingBlock
	stateDone
	stateFailed
)

// scan is the state of a single Collect call. Nothing of it outlives the call.
type scan struct {
	state    walkState
	quota    entities.ScanQuota
	tip      entities.BlockRef
	height   uint64
	block    string
	page     int
	blockTxs []entities.TxRecord
	records  []entities.TxRecord
	visited  []uint64
	err      error
}

func (s *scan) fail(err error) {
	s.err = err
	s.state = stateFailed
}

func (s *scan) result() entities.ScanResult {
	return entities.ScanResult{
		Tip:     s.tip,
		Records: s.records,
		Visited: s.visited,
		Quota:   s.quota,
	}
}

// Collect walks backward from the block below the tip until at least n transactions are collected.
// The last block's final page is kept whole, so the result may exceed n by less than one page.
// Transactions that fail to decode are kept as invalid records and count towards the quota.
func (w *ChainWalker) Collect(ctx context.Context, n int) (entities.ScanResult, error) {
	if n <= 0 {
		return entities.ScanResult{}, fmt.Errorf("invalid quota [%d]: must be positive", n)
	}

	tip, err := w.resolveTip(ctx)
	if err != nil {
		return entities.ScanResult{}, fmt.Errorf("resolving chain tip: %w", err)
	}
	w.metrics.SetSourceTip(tip.Height)
	w.logger.Infow("Starting backward scan", "tipHeight", tip.Height, "tipHash", tip.Hash, "requested", n)

	s := &scan{
		state:  stateScanning,
		quota:  entities.ScanQuota{Requested: n},
		tip:    tip,
		height: tip.Height,
	}

	for s.state != stateDone && s.state != stateFailed {
		switch s.state {
		case stateScanning:
			w.nextBlock(ctx, s)
		case statePagingBlock:
			w.nextPage(ctx, s)
		}
	}

	if s.state == stateFailed {
		w.logger.Errorw("Scan failed", "height", s.height, "collected", s.quota.Collected, "requested", n, "error", s.err)
		return s.result(), s.err
	}

	w.logger.Infow("Finished backward scan", "collected", s.quota.Collected, "requested", n, "blocks", len(s.visited))
	return s.result(), nil
}

func (w *ChainWalker) resolveTip(ctx context.Context) (entities.BlockRef, error) {
	height, err := w.source.LatestBlockHeight(ctx)
	if err != nil {
		return entities.BlockRef{}, fmt.Errorf("getting latest block height: %w", err)
	}
	hash, err := w.source.LatestBlockHash(ctx)
	if err != nil {
		return entities.BlockRef{}, fmt.Errorf("getting latest block hash: %w", err)
	}
	return entities.BlockRef{Height: height, Hash: hash}, nil
}

func (w *ChainWalker) nextBlock(ctx context.Context, s *scan) {
	if s.quota.Satisfied() {
		s.state = stateDone
		return
	}
	if err := ctx.Err(); err != nil {
		s.fail(err)
		return
	}
	if s.height == 0 {
		s.fail(fmt.Errorf("%w: collected [%d] of [%d] transactions", entities.ErrInsufficientData, s.quota.Collected, s.quota.Requested))
		return
	}

	s.height--
	hash, err := w.source.BlockHash(ctx, s.height)
	if err != nil {
		s.fail(fmt.Errorf("getting hash of block [%d]: %w", s.height, err))
		return
	}

	s.block = hash
	s.page = 0
	s.blockTxs = nil
	s.state = statePagingBlock
}

func (w *ChainWalker) nextPage(ctx context.Context, s *scan) {
	if s.page >= w.maxPages {
		s.fail(fmt.Errorf("%w: block [%d] (%s) has more than [%d] pages", entities.ErrPaginationOverrun, s.height, s.block, w.maxPages))
		return
	}
	if err := ctx.Err(); err != nil {
		s.fail(err)
		return
	}

	offset := s.page * PageSize
	page, err := w.source.BlockTxPage(ctx, s.block, offset)
	w.metrics.IncPageRequests()
	switch {
	case errors.Is(err, entities.ErrPageOutOfRange):
		w.finishBlock(s)
		return
	case errors.Is(err, entities.ErrMisalignedOffset):
		s.fail(fmt.Errorf("%w: offset [%d] of block [%s]: %w", entities.ErrPaginationProtocol, offset, s.block, err))
		return
	case err != nil:
		s.fail(fmt.Errorf("getting page [%d] of block [%d]: %w", s.page, s.height, err))
		return
	}

	records, err := w.decodePage(ctx, page)
	if err != nil {
		s.fail(fmt.Errorf("decoding page [%d] of block [%d]: %w", s.page, s.height, err))
		return
	}
	s.blockTxs = append(s.blockTxs, records...)
	s.page++

	exhausted := len(page) < PageSize
	if exhausted || len(s.blockTxs) >= s.quota.Remaining() {
		w.finishBlock(s)
	}
}

func (w *ChainWalker) finishBlock(s *scan) {
	s.visited = append(s.visited, s.height)
	s.records = append(s.records, s.blockTxs...)
	s.quota.Collected += len(s.blockTxs)

	w.metrics.SetScannedBlock(s.height)
	w.metrics.AddCollectedTransactions(len(s.blockTxs))
	w.logger.Infow("Scanned block", "height", s.height, "hash", s.block, "transactions", len(s.blockTxs), "pages", s.page, "collected", s.quota.Collected)

	s.blockTxs = nil
	s.state = stateScanning
}

func (w *ChainWalker) decodePage(ctx context.Context, page []entities.RawTx) ([]entities.TxRecord, error) {
	records := make([]entities.TxRecord, 0, len(page))
	for _, raw := range page {
		payload := raw.Payload
		if w.fetchRawHex {
			hex, err := w.source.RawTx(ctx, raw.ID)
			if err != nil {
				return nil, fmt.Errorf("getting raw transaction [%s]: %w", raw.ID, err)
			}
			payload = hex
		}

		record, valid := w.decoder.Decode(payload)
		if !valid {
			w.metrics.IncDecodeFailures()
			if record.ID == "" || record.ID == entities.UnknownTxID {
				record.ID = raw.ID
			}
			w.logger.Warnw("Could not decode transaction", "txId", raw.ID)
		}
		if record.ID == "" {
			record.ID = entities.UnknownTxID
		}
		records = append(records, record)
	}
	return records, nil
}
