// Package csvwriter exports ledger rows as CSV.
package csvwriter

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/adx-trend-bot/internal/ledger"
)

// ExecutionHeader is the column order of WriteExecution.
var ExecutionHeader = []string{
	"order_id", "dedupe_key", "symbol", "side", "qty", "order_type",
	"snapshot_price", "submit_latency_ms", "submitted_at", "status",
	"fill_price", "filled_at", "slippage_pct", "fill_latency_ms",
}

// Writer is a concurrency-safe CSV writer.
type Writer struct {
	file   io.Closer
	writer *csv.Writer
	logger *zap.Logger
	mu     sync.Mutex
	rows   int
}

// NewWriter creates a new CSV file at filePath.
func NewWriter(filePath string, logger *zap.Logger) (*Writer, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV file: %w", err)
	}
	w := NewStreamWriter(file, logger)
	w.file = file
	return w, nil
}

// NewStreamWriter writes to out, e.g. stdout. Close does not close out.
func NewStreamWriter(out io.Writer, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{writer: csv.NewWriter(out), logger: logger}
}

// Write writes a record to the CSV file.
func (w *Writer) Write(record []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record to CSV: %w", err)
	}
	w.rows++
	return nil
}

// WriteHeader writes ExecutionHeader.
func (w *Writer) WriteHeader() error {
	return w.Write(ExecutionHeader)
}

// WriteExecution writes one ledger row. Unset optional fields are empty.
func (w *Writer) WriteExecution(e ledger.Execution) error {
	return w.Write([]string{
		e.OrderID,
		e.DedupeKey,
		e.Symbol,
		string(e.Side),
		formatFloat(e.Qty),
		e.OrderType,
		formatFloat(e.SnapshotPrice),
		formatFloat(e.SubmitLatencyMs),
		formatTime(&e.SubmittedAt),
		string(e.Status),
		formatOptional(e.FillPrice),
		formatTime(e.FilledAt),
		formatOptional(e.SlippagePct),
		formatOptional(e.FillLatencyMs),
	})
}

// Rows is the number of records written, header included.
func (w *Writer) Rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Flush flushes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writer.Flush()
	return w.writer.Error()
}

// Close flushes and closes the file, if the Writer owns one.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		w.logger.Error("failed to flush CSV", zap.Error(err))
		return err
	}
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
