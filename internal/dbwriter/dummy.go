package dbwriter

import (
	"context"

	"github.com/your-org/adx-trend-bot/pkg/logger"
)

// logOnlyWriter stands in when the store has no SQL handle (memory driver).
// Rows go to the debug log instead of a table.
type logOnlyWriter struct {
	log logger.Logger
}

// NewDummyWriter returns a DBWriter that only logs.
func NewDummyWriter(l logger.Logger) DBWriter {
	l.Info("[DBWriter] no SQL database; signal evaluations and equity snapshots are logged only")
	return &logOnlyWriter{log: l}
}

func (w *logOnlyWriter) SaveSignalEvaluation(ev SignalEvaluation) {
	w.log.Debugf("[DBWriter] signal %s bar=%s adx=%.2f rsi=%.2f decision=%s",
		ev.Symbol, ev.Time.Format("2006-01-02T15:04Z07:00"), ev.ADX, ev.RSI, ev.Decision)
}

func (w *logOnlyWriter) SaveEquitySnapshot(s EquitySnapshot) {
	w.log.Debugf("[DBWriter] equity=%.2f cash=%.2f", s.Equity, s.Cash)
}

func (w *logOnlyWriter) Flush(context.Context) {}

func (w *logOnlyWriter) Close() {}
