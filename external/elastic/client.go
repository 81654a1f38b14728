package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/anomaly-tools/tx-anomaly-detector/entities"
	"github.com/elastic/go-elasticsearch/v8"
)

type Client struct {
	index    string
	esClient *elasticsearch.Client
}

type Config struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
	Timeout   time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	esCfg := elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: cfg.Timeout,
		},
	}

	esClient, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %v", err)
	}

	return &Client{
		index:    cfg.Index,
		esClient: esClient,
	}, nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// PublishReports bulk indexes the reports. Reports are identified by transaction hash, so re-scoring a
// transaction overwrites its previous report.
func (es *Client) PublishReports(ctx context.Context, reports []entities.Report) error {
	if len(reports) == 0 {
		return nil
	}

	body, err := es.bulkBody(reports)
	if err != nil {
		return err
	}

	res, err := es.esClient.Bulk(bytes.NewReader(body), es.esClient.Bulk.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("bulk request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("bulk request error: %s", res.String())
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("reading bulk response: %w", err)
	}
	var parsed bulkResponse
	err = json.Unmarshal(data, &parsed)
	if err != nil {
		return fmt.Errorf("unmarshalling bulk response: %w", err)
	}
	if parsed.Errors {
		return bulkItemsError(parsed)
	}

	return nil
}

type indexAction struct {
	Index string `json:"_index"`
	ID    string `json:"_id,omitempty"`
}

type bulkAction struct {
	Index indexAction `json:"index"`
}

func (es *Client) bulkBody(reports []entities.Report) ([]byte, error) {
	var buf bytes.Buffer

	for _, report := range reports {
		action := bulkAction{Index: indexAction{Index: es.index}}
		if report.TransactionHash != entities.UnknownTxID {
			action.Index.ID = report.TransactionHash
		}
		meta, err := json.Marshal(action)
		if err != nil {
			return nil, fmt.Errorf("error serializing bulk action: %w", err)
		}
		buf.Write(meta)
		buf.WriteByte('\n')

		data, err := json.Marshal(report)
		if err != nil {
			return nil, fmt.Errorf("error serializing report: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	return buf.Bytes(), nil
}

func bulkItemsError(res bulkResponse) error {
	failed := 0
	var first string
	for _, item := range res.Items {
		for _, result := range item {
			if result.Status < 300 {
				continue
			}
			failed++
			if first == "" {
				first = fmt.Sprintf("[%s] %s: %s", result.ID, result.Error.Type, result.Error.Reason)
			}
		}
	}
	return fmt.Errorf("bulk request indexed with [%d] failed items, first: %s", failed, first)
}
