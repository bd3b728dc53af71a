package dbwriter

import "context"

// DBWriter defines the interface for writing the signal log and equity
// curve. This allows for mocking in tests.
type DBWriter interface {
	SaveSignalEvaluation(ev SignalEvaluation)
	SaveEquitySnapshot(s EquitySnapshot)
	Flush(ctx context.Context)
	Close()
}
