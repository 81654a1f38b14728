package retry

import (
	"context"
	"errors"
	"time"

	"github.com/anomaly-tools/tx-anomaly-detector/entities"
	"go.uber.org/zap"
)

type ChainSource interface {
	LatestBlockHash(ctx context.Context) (string, error)
	LatestBlockHeight(ctx context.Context) (uint64, error)
	BlockHash(ctx context.Context, height uint64) (string, error)
	BlockTxPage(ctx context.Context, blockHash string, offset int) ([]entities.RawTx, error)
	BlockTxIDs(ctx context.Context, blockHash string) ([]string, error)
	RawTx(ctx context.Context, txID string) (string, error)
}

// ClassifyRemote retries remote i/o failures only. Pagination outcomes and everything else are final.
func ClassifyRemote(err error) Class {
	if errors.Is(err, entities.ErrRemoteIO) {
		return Retryable
	}
	return Fatal
}

// Source retries remote i/o failures of the wrapped chain source.
type Source struct {
	next   ChainSource
	policy Policy
}

func NewSource(next ChainSource, policy Policy, logger *zap.SugaredLogger) *Source {
	policy.Classify = ClassifyRemote
	if policy.OnRetry == nil && logger != nil {
		policy.OnRetry = func(attempt int, wait time.Duration, err error) {
			logger.Warnw("Retrying chain source call", "attempt", attempt, "wait", wait, "error", err)
		}
	}
	return &Source{next: next, policy: policy}
}

func (s *Source) LatestBlockHash(ctx context.Context) (string, error) {
	return call(ctx, s.policy, func(ctx context.Context) (string, error) {
		return s.next.LatestBlockHash(ctx)
	})
}

func (s *Source) LatestBlockHeight(ctx context.Context) (uint64, error) {
	return call(ctx, s.policy, func(ctx context.Context) (uint64, error) {
		return s.next.LatestBlockHeight(ctx)
	})
}

func (s *Source) BlockHash(ctx context.Context, height uint64) (string, error) {
	return call(ctx, s.policy, func(ctx context.Context) (string, error) {
		return s.next.BlockHash(ctx, height)
	})
}

func (s *Source) BlockTxPage(ctx context.Context, blockHash string, offset int) ([]entities.RawTx, error) {
	return call(ctx, s.policy, func(ctx context.Context) ([]entities.RawTx, error) {
		return s.next.BlockTxPage(ctx, blockHash, offset)
	})
}

func (s *Source) BlockTxIDs(ctx context.Context, blockHash string) ([]string, error) {
	return call(ctx, s.policy, func(ctx context.Context) ([]string, error) {
		return s.next.BlockTxIDs(ctx, blockHash)
	})
}

func (s *Source) RawTx(ctx context.Context, txID string) (string, error) {
	return call(ctx, s.policy, func(ctx context.Context) (string, error) {
		return s.next.RawTx(ctx, txID)
	})
}
