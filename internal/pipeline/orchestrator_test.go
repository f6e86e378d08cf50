package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crestdata/forcesync/pkg/config"
	"github.com/crestdata/forcesync/pkg/connector/core"
	"github.com/crestdata/forcesync/pkg/errors"
)

// fakeIterator yields scripted records, then a terminal error or EOF.
type fakeIterator struct {
	records []core.Record
	err     error
	pos     int
	closed  bool
}

func (it *fakeIterator) Next() (core.Record, error) {
	if it.pos < len(it.records) {
		r := it.records[it.pos]
		it.pos++
		return r, nil
	}
	if it.err != nil {
		return nil, it.err
	}
	return nil, io.EOF
}

func (it *fakeIterator) Close() error {
	it.closed = true
	return nil
}

type fakeStream struct {
	name    string
	records []core.Record
	readErr error

	started bool
	iter    *fakeIterator
}

func (s *fakeStream) Name() string            { return s.name }
func (s *fakeStream) PrimaryKey() string      { return "Id" }
func (s *fakeStream) CursorField() string     { return "SystemModstamp" }
func (s *fakeStream) Strategy() core.Strategy { return core.StrategyBulk }

func (s *fakeStream) Slices(ctx context.Context, state core.StreamState) ([]core.Slice, error) {
	s.started = true
	end, _ := time.Parse(time.RFC3339, "2025-02-01T00:00:00Z")
	return []core.Slice{{StartDate: end.Add(-30 * 24 * time.Hour), EndDate: end}}, nil
}

func (s *fakeStream) Read(ctx context.Context, slice core.Slice, state core.StreamState) (core.RecordIterator, error) {
	s.iter = &fakeIterator{records: s.records, err: s.readErr}
	return s.iter, nil
}

type fakeSource struct {
	streams []core.Stream
}

func (f *fakeSource) Check(ctx context.Context) error { return nil }
func (f *fakeSource) Discover(ctx context.Context) ([]core.StreamDescriptor, error) {
	return nil, nil
}
func (f *fakeSource) Streams(ctx context.Context) ([]core.Stream, error) {
	return f.streams, nil
}

func records(n int) []core.Record {
	out := make([]core.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, core.Record{"Id": string(rune('a' + i))})
	}
	return out
}

func parseMessages(t *testing.T, buf *bytes.Buffer) []core.Message {
	t.Helper()
	var out []core.Message
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var msg core.Message
		require.NoError(t, gojson.Unmarshal(scanner.Bytes(), &msg))
		out = append(out, msg)
	}
	require.NoError(t, scanner.Err())
	return out
}

func countByStream(msgs []core.Message) map[string]int {
	counts := make(map[string]int)
	for _, m := range msgs {
		if m.Type == core.MessageTypeRecord {
			counts[m.Record.Stream]++
		}
	}
	return counts
}

func testOrchestrator(buf *bytes.Buffer) *Orchestrator {
	cfg := config.NewSyncConfig("test")
	cfg.Performance.CheckpointInterval = 2
	return NewOrchestrator(cfg, core.NewEmitter(buf))
}

func TestRunHappyPath(t *testing.T) {
	var buf bytes.Buffer
	orch := testOrchestrator(&buf)

	source := &fakeSource{streams: []core.Stream{
		&fakeStream{name: "Account", records: records(3)},
		&fakeStream{name: "Contact", records: records(2)},
	}}

	result, err := orch.Run(context.Background(), source)
	require.NoError(t, err)
	assert.False(t, result.RateLimited)
	assert.Equal(t, int64(5), result.Records)
	assert.Equal(t, StatusCompleted, result.Streams[0].Status)
	assert.Equal(t, StatusCompleted, result.Streams[1].Status)

	msgs := parseMessages(t, &buf)
	assert.Equal(t, map[string]int{"Account": 3, "Contact": 2}, countByStream(msgs))

	// Completed slices advance the cursor in the final state message.
	last := msgs[len(msgs)-1]
	require.Equal(t, core.MessageTypeState, last.Type)
	assert.Equal(t, "2025-02-01T00:00:00.000Z", last.State.Data["Account"].Cursor)
	assert.Equal(t, "2025-02-01T00:00:00.000Z", last.State.Data["Contact"].Cursor)
}

func TestRunCheckpointsEveryInterval(t *testing.T) {
	var buf bytes.Buffer
	orch := testOrchestrator(&buf)

	source := &fakeSource{streams: []core.Stream{
		&fakeStream{name: "Account", records: records(5)},
	}}

	_, err := orch.Run(context.Background(), source)
	require.NoError(t, err)

	var states int
	for _, m := range parseMessages(t, &buf) {
		if m.Type == core.MessageTypeState {
			states++
		}
	}
	// Interval of 2 over 5 records: two mid-stream checkpoints, one at
	// stream completion, one closing the run.
	assert.Equal(t, 4, states)
}

func TestRunRateLimitStopsGracefully(t *testing.T) {
	var buf bytes.Buffer
	orch := testOrchestrator(&buf)

	rateLimited := errors.New(errors.ErrorTypeRateLimit, "TotalRequests Limit exceeded.")
	third := &fakeStream{name: "Lead", records: records(4)}
	source := &fakeSource{streams: []core.Stream{
		&fakeStream{name: "Account", records: records(3)},
		&fakeStream{name: "Contact", records: records(2), readErr: rateLimited},
		third,
	}}

	result, err := orch.Run(context.Background(), source)

	// Graceful degradation: the run still succeeds.
	require.NoError(t, err)
	assert.True(t, result.RateLimited)
	assert.Equal(t, StatusCompleted, result.Streams[0].Status)
	assert.Equal(t, StatusRateLimited, result.Streams[1].Status)
	assert.Equal(t, StatusNotStarted, result.Streams[2].Status)
	assert.False(t, third.started, "streams after a rate limit must never start")

	msgs := parseMessages(t, &buf)

	// The completed stream's records and the partial stream's records both
	// made it out before the stop.
	assert.Equal(t, map[string]int{"Account": 3, "Contact": 2}, countByStream(msgs))

	// The completed stream's cursor survives in the final state.
	last := msgs[len(msgs)-1]
	require.Equal(t, core.MessageTypeState, last.Type)
	assert.Equal(t, "2025-02-01T00:00:00.000Z", last.State.Data["Account"].Cursor)
}

func TestRunStreamFailureFailsSync(t *testing.T) {
	var buf bytes.Buffer
	orch := testOrchestrator(&buf)

	source := &fakeSource{streams: []core.Stream{
		&fakeStream{name: "Account", records: records(1), readErr: errors.New(errors.ErrorTypeQuery, "boom")},
	}}

	result, err := orch.Run(context.Background(), source)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, result.Streams[0].Status)

	// The run error names the stream and carries the underlying cause.
	assert.Contains(t, err.Error(), "Account")
	assert.Contains(t, err.Error(), "boom")
}

func TestRunClosesIterators(t *testing.T) {
	var buf bytes.Buffer
	orch := testOrchestrator(&buf)

	stream := &fakeStream{name: "Account", records: records(2)}
	_, err := orch.Run(context.Background(), &fakeSource{streams: []core.Stream{stream}})
	require.NoError(t, err)
	assert.True(t, stream.iter.closed)
}

func TestRunResumesFromSeededState(t *testing.T) {
	var buf bytes.Buffer
	orch := testOrchestrator(&buf)
	orch.SetState(map[string]core.StreamState{
		"Account": {Cursor: "2025-01-01T00:00:00.000Z"},
	})

	source := &fakeSource{streams: []core.Stream{
		&fakeStream{name: "Account", records: records(1)},
	}}
	_, err := orch.Run(context.Background(), source)
	require.NoError(t, err)

	msgs := parseMessages(t, &buf)
	last := msgs[len(msgs)-1]
	require.Equal(t, core.MessageTypeState, last.Type)
	// The cursor moved forward from the seed.
	assert.Equal(t, "2025-02-01T00:00:00.000Z", last.State.Data["Account"].Cursor)
}
