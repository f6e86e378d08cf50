// Package core defines the connector-facing contracts: streams, slices,
// records, per-stream state and the read strategies available to a stream.
package core

import (
	"context"
	"time"
)

// Record is one entity row. Values are JSON-shaped; absent vendor values
// are explicit nils.
type Record = map[string]interface{}

// CursorTimeLayout is the ISO-8601 millisecond format used for cursor
// values in state and in vendor datetime literals. Always rendered in UTC.
const CursorTimeLayout = "2006-01-02T15:04:05.000Z"

// FormatCursor renders a time as a cursor value.
func FormatCursor(t time.Time) string {
	return t.UTC().Format(CursorTimeLayout)
}

// Strategy selects the read path for a stream.
type Strategy string

const (
	StrategyBulk Strategy = "bulk"
	StrategyRest Strategy = "rest"
)

// Slice is one unit of incremental work. A time slice carries cursor
// bounds; a parent slice carries a batch of parent records for sub-stream
// queries. Exactly one of the two forms is populated.
type Slice struct {
	StartDate time.Time
	EndDate   time.Time
	Parents   []Record
}

// IsParentSlice reports whether the slice keys on parent records.
func (s Slice) IsParentSlice() bool {
	return len(s.Parents) > 0
}

// StreamState is the replication cursor for one stream.
type StreamState struct {
	Cursor string `json:"cursor"`
}

// RecordIterator yields the records of one slice. Next returns io.EOF when
// the slice is exhausted. Close must be called on every exit path.
type RecordIterator interface {
	Next() (Record, error)
	Close() error
}

// Stream is one syncable entity.
type Stream interface {
	// Name is the entity name, unique within a source.
	Name() string

	// PrimaryKey is the merge key, or "" when the entity has none.
	PrimaryKey() string

	// CursorField is the incremental cursor field, or "" for full refresh.
	CursorField() string

	// Strategy reports the selected read path.
	Strategy() Strategy

	// Slices produces the slices to read, in order, given the saved state.
	Slices(ctx context.Context, state StreamState) ([]Slice, error)

	// Read opens a record iterator over one slice.
	Read(ctx context.Context, slice Slice, state StreamState) (RecordIterator, error)
}

// Source is a connector to one vendor account.
type Source interface {
	// Check verifies credentials and API reachability.
	Check(ctx context.Context) error

	// Discover lists the entities available to sync.
	Discover(ctx context.Context) ([]StreamDescriptor, error)

	// Streams builds the streams selected by the catalog.
	Streams(ctx context.Context) ([]Stream, error)
}

// StreamDescriptor describes one discoverable stream.
type StreamDescriptor struct {
	Name        string   `json:"name"`
	PrimaryKey  string   `json:"primary_key,omitempty"`
	CursorField string   `json:"cursor_field,omitempty"`
	Fields      []string `json:"fields"`
}
