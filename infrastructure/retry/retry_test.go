package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/anomaly-tools/tx-anomaly-detector/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")
var errFatal = errors.New("fatal")

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDo(t *testing.T) {

	testData := []struct {
		name          string
		failures      []error
		attempts      int
		classify      func(error) Class
		expectedErr   error
		expectedCalls int
	}{
		{
			name:          "succeeds first time",
			attempts:      3,
			expectedCalls: 1,
		},
		{
			name:          "succeeds after retries",
			failures:      []error{errTransient, errTransient},
			attempts:      3,
			expectedCalls: 3,
		},
		{
			name:          "attempts exhausted",
			failures:      []error{errTransient, errTransient, errTransient},
			attempts:      2,
			expectedErr:   errTransient,
			expectedCalls: 2,
		},
		{
			name:     "fatal stops immediately",
			failures: []error{errFatal, errTransient},
			attempts: 5,
			classify: func(err error) Class {
				if errors.Is(err, errFatal) {
					return Fatal
				}
				return Retryable
			},
			expectedErr:   errFatal,
			expectedCalls: 1,
		},
	}

	for _, td := range testData {
		t.Run(td.name, func(t *testing.T) {
			policy := fastPolicy(td.attempts)
			policy.Classify = td.classify

			calls := 0
			err := Do(context.Background(), policy, func(context.Context) error {
				calls++
				if calls <= len(td.failures) {
					return td.failures[calls-1]
				}
				return nil
			})

			if td.expectedErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, td.expectedErr)
			}
			assert.Equal(t, td.expectedCalls, calls)
		})
	}
}

func TestDo_cancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	policy := Policy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
	policy.OnRetry = func(int, time.Duration, error) { cancel() }

	calls := 0
	err := Do(ctx, policy, func(context.Context) error {
		calls++
		return errTransient
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_alreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastPolicy(5), func(context.Context) error {
		calls++
		return errTransient
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_reportsRetries(t *testing.T) {
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, Jitter: 0.5}

	var attempts []int
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		attempts = append(attempts, attempt)
		assert.ErrorIs(t, err, errTransient)
		assert.LessOrEqual(t, wait, 6*time.Millisecond)
	}

	err := Do(context.Background(), policy, func(context.Context) error {
		return errTransient
	})
	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, []int{1, 2}, attempts)
}

type MockSource struct {
	failures []error
	calls    int
}

func (m *MockSource) next() error {
	m.calls++
	if m.calls <= len(m.failures) {
		return m.failures[m.calls-1]
	}
	return nil
}

func (m *MockSource) LatestBlockHash(_ context.Context) (string, error) {
	if err := m.next(); err != nil {
		return "", err
	}
	return "tip-hash", nil
}

func (m *MockSource) LatestBlockHeight(_ context.Context) (uint64, error) {
	if err := m.next(); err != nil {
		return 0, err
	}
	return 42, nil
}

func (m *MockSource) BlockHash(_ context.Context, height uint64) (string, error) {
	if err := m.next(); err != nil {
		return "", err
	}
	return fmt.Sprintf("hash-%d", height), nil
}

func (m *MockSource) BlockTxPage(_ context.Context, _ string, _ int) ([]entities.RawTx, error) {
	if err := m.next(); err != nil {
		return nil, err
	}
	return []entities.RawTx{{ID: "a"}}, nil
}

func (m *MockSource) BlockTxIDs(_ context.Context, _ string) ([]string, error) {
	if err := m.next(); err != nil {
		return nil, err
	}
	return []string{"a", "b"}, nil
}

func (m *MockSource) RawTx(_ context.Context, txID string) (string, error) {
	if err := m.next(); err != nil {
		return "", err
	}
	return "raw-" + txID, nil
}

func TestSource_retriesRemoteFailures(t *testing.T) {
	remote := fmt.Errorf("%w: connection reset", entities.ErrRemoteIO)
	mock := &MockSource{failures: []error{remote, remote}}
	source := NewSource(mock, fastPolicy(3), nil)

	hash, err := source.BlockHash(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "hash-7", hash)
	assert.Equal(t, 3, mock.calls)
}

func TestSource_doesNotRetryPaginationOutcomes(t *testing.T) {

	testData := []struct {
		name string
		err  error
	}{
		{name: "out of range", err: entities.ErrPageOutOfRange},
		{name: "misaligned", err: entities.ErrMisalignedOffset},
	}

	for _, td := range testData {
		t.Run(td.name, func(t *testing.T) {
			mock := &MockSource{failures: []error{td.err}}
			source := NewSource(mock, fastPolicy(5), nil)

			_, err := source.BlockTxPage(context.Background(), "hash", 25)
			require.ErrorIs(t, err, td.err)
			assert.Equal(t, 1, mock.calls)
		})
	}
}

func TestSource_passesResults(t *testing.T) {
	source := NewSource(&MockSource{}, fastPolicy(1), nil)
	ctx := context.Background()

	height, err := source.LatestBlockHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), height)

	hash, err := source.LatestBlockHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tip-hash", hash)

	ids, err := source.BlockTxIDs(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	raw, err := source.RawTx(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "raw-a", raw)
}
