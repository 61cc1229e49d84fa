// Package logsink is the append-only journal the cloud layer reports
// failures and transfers to. The sink owns ordering; writers only append.
package logsink

import "context"

// Category labels a journal entry by subsystem.
type Category string

const (
	CategoryAuth     Category = "Auth"
	CategoryTransfer Category = "Transfer"
	CategoryNetwork  Category = "Network"
)

// Recorder accepts journal entries. Implementations must be safe for
// concurrent use. Record never fails the caller's operation — sink
// errors are returned for logging only.
type Recorder interface {
	Record(ctx context.Context, category Category, source, message string) error
}

// Noop discards all entries. Used in tests and when no journal is configured.
type Noop struct{}

func (Noop) Record(context.Context, Category, string, string) error {
	return nil
}
