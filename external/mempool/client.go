package mempool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anomaly-tools/tx-anomaly-detector/entities"
	"github.com/jellydator/ttlcache/v3"
)

// Text bodies the API answers with when a block page cannot be served.
const (
	outOfRangeBody = "start index out of range"
	misalignedBody = "start index must be a multipication of 25"
)

const maxBodySize = 32 << 20

// Client reads blocks and transactions from a mempool.space compatible (esplora) REST API.
type Client struct {
	base       string
	hc         *http.Client
	blockCache *ttlcache.Cache[uint64, string]
}

func NewClient(base string, timeout, blockHashTTL time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		hc: &http.Client{
			Timeout: timeout,
		},
		blockCache: ttlcache.New[uint64, string](
			ttlcache.WithTTL[uint64, string](blockHashTTL),
			ttlcache.WithDisableTouchOnHit[uint64, string](),
		),
	}
}

type page struct {
	status int
	body   []byte
}

func (c *Client) get(ctx context.Context, path string) (page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return page{}, fmt.Errorf("creating request for [%s]: %w", path, err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return page{}, fmt.Errorf("%w: calling [%s]: %v", entities.ErrRemoteIO, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return page{}, fmt.Errorf("%w: reading response of [%s]: %v", entities.ErrRemoteIO, path, err)
	}
	return page{status: resp.StatusCode, body: body}, nil
}

// getOK returns the body of a successful response. Any other status is a remote failure.
func (c *Client) getOK(ctx context.Context, path string) ([]byte, error) {
	p, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	if p.status >= 300 {
		return nil, fmt.Errorf("%w: [%s] returned status [%d]: %s", entities.ErrRemoteIO, path, p.status, truncate(p.body))
	}
	return p.body, nil
}

func (c *Client) getText(ctx context.Context, path string) (string, error) {
	body, err := c.getOK(ctx, path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (c *Client) LatestBlockHash(ctx context.Context) (string, error) {
	return c.getText(ctx, "/blocks/tip/hash")
}

func (c *Client) LatestBlockHeight(ctx context.Context) (uint64, error) {
	text, err := c.getText(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing tip height [%s]: %w", text, err)
	}
	return height, nil
}

// BlockHash resolves the hash of the block at height. Resolved hashes are cached for a short time.
func (c *Client) BlockHash(ctx context.Context, height uint64) (string, error) {
	if item := c.blockCache.Get(height); item != nil {
		return item.Value(), nil
	}

	hash, err := c.getText(ctx, fmt.Sprintf("/block-height/%d", height))
	if err != nil {
		return "", err
	}
	c.blockCache.Set(height, hash, ttlcache.DefaultTTL)
	return hash, nil
}

func (c *Client) BlockTxPage(ctx context.Context, blockHash string, offset int) ([]entities.RawTx, error) {
	path := fmt.Sprintf("/block/%s/txs/%d", blockHash, offset)
	p, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(string(p.body))
	switch {
	case text == outOfRangeBody:
		return nil, entities.ErrPageOutOfRange
	case strings.Contains(text, misalignedBody):
		return nil, entities.ErrMisalignedOffset
	case p.status >= 300:
		return nil, fmt.Errorf("%w: [%s] returned status [%d]: %s", entities.ErrRemoteIO, path, p.status, truncate(p.body))
	}

	var items []json.RawMessage
	err = json.Unmarshal(p.body, &items)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding page of [%s]: %v", entities.ErrRemoteIO, path, err)
	}

	txs := make([]entities.RawTx, 0, len(items))
	for _, item := range items {
		var ref struct {
			TxID string `json:"txid"`
		}
		_ = json.Unmarshal(item, &ref) // a missing id surfaces as an invalid record later
		txs = append(txs, entities.RawTx{ID: ref.TxID, Payload: string(item)})
	}
	return txs, nil
}

func (c *Client) BlockTxIDs(ctx context.Context, blockHash string) ([]string, error) {
	path := fmt.Sprintf("/block/%s/txids", blockHash)
	body, err := c.getOK(ctx, path)
	if err != nil {
		return nil, err
	}

	var ids []string
	err = json.Unmarshal(body, &ids)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding transaction ids of [%s]: %v", entities.ErrRemoteIO, path, err)
	}
	return ids, nil
}

func (c *Client) RawTx(ctx context.Context, txID string) (string, error) {
	return c.getText(ctx, fmt.Sprintf("/tx/%s/hex", txID))
}

func truncate(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
