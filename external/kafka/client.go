package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/anomaly-tools/tx-anomaly-detector/entities"
	"github.com/twmb/franz-go/pkg/kgo"
)

type KafkaClient interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

type Client struct {
	kcl KafkaClient
}

func NewClient(kafkaClient KafkaClient) *Client {
	return &Client{
		kcl: kafkaClient,
	}
}

// PublishReports produces one record per report and waits for all of them to be acknowledged.
func (kc *Client) PublishReports(ctx context.Context, reports []entities.Report) error {

	wg := sync.WaitGroup{}
	errorChannel := make(chan error, len(reports))

	for _, report := range reports {

		record, err := createReportRecord(report)
		if err != nil {
			log.Printf("Error while creating report record: %v", err)
			errorChannel <- err
			break
		}

		wg.Add(1)
		kc.kcl.Produce(ctx, record, func(_ *kgo.Record, err error) {
			defer wg.Done()
			if err != nil {
				log.Printf("Error while producing report record: %v", err)
				errorChannel <- err
			}
		})
	}

	wg.Wait()
	close(errorChannel)

	var errs []error
	for err := range errorChannel {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("encountered [%d] errors while producing report records: %w", len(errs), errors.Join(errs...))
	}

	return nil
}

// createReportRecord keys records by transaction hash so reports of the same transaction share a partition.
// Reports of unidentified transactions are not keyed.
func createReportRecord(report entities.Report) (*kgo.Record, error) {

	payload, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshalling report to json: %w", err)
	}

	var key []byte
	if report.TransactionHash != "" && report.TransactionHash != entities.UnknownTxID {
		key = []byte(report.TransactionHash)
	}

	return &kgo.Record{
		Key:     key,
		Value:   payload,
		Headers: []kgo.RecordHeader{{Key: "action", Value: []byte(report.Action)}},
	}, nil
}
