package stdout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/anomaly-tools/tx-anomaly-detector/entities"
)

// Writer prints reports as indented JSON, one document per report.
type Writer struct {
	out    io.Writer
	locker sync.Mutex
}

func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

func (w *Writer) PublishReports(ctx context.Context, reports []entities.Report) error {
	w.locker.Lock()
	defer w.locker.Unlock()

	encoder := json.NewEncoder(w.out)
	encoder.SetIndent("", "   ")
	for _, report := range reports {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := encoder.Encode(report)
		if err != nil {
			return fmt.Errorf("writing report [%s]: %w", report.TransactionHash, err)
		}
	}
	return nil
}
