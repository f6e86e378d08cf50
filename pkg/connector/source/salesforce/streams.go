package salesforce

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crestdata/forcesync/pkg/config"
	"github.com/crestdata/forcesync/pkg/connector/core"
	"github.com/crestdata/forcesync/pkg/errors"
	"github.com/crestdata/forcesync/pkg/logger"
	"github.com/crestdata/forcesync/pkg/salesforce"
	"github.com/crestdata/forcesync/pkg/salesforce/bulk"
	"github.com/crestdata/forcesync/pkg/salesforce/rest"
)

// SOQLTimeLayout is the ISO-8601 millisecond format the vendor expects in
// datetime literals. It matches the cursor layout so saved cursors are
// valid SOQL literals as-is.
const SOQLTimeLayout = core.CursorTimeLayout

// DefaultLookback bounds the first incremental window when no start date is
// configured.
const DefaultLookback = 2 * 365 * 24 * time.Hour

// FormatCursor renders a time as a SOQL datetime literal.
func FormatCursor(t time.Time) string {
	return core.FormatCursor(t)
}

// cursorFieldFor picks the incremental cursor for an entity, preferring the
// vendor's replication timestamp.
func cursorFieldFor(desc *salesforce.EntityDescriptor) string {
	for _, candidate := range []string{"SystemModstamp", "LastModifiedDate", "CreatedDate"} {
		if desc.HasField(candidate) {
			return candidate
		}
	}
	return ""
}

// ParentLink makes a stream a sub-stream: its queries filter on parent
// record keys instead of a time cursor.
type ParentLink struct {
	// Parent is the stream whose records key the child's slices.
	Parent core.Stream
	// ParentKey is the field read from each parent record, normally "Id".
	ParentKey string
	// ChildField is the child field matched against parent keys.
	ChildField string
}

// Stream is one Salesforce entity wired to a read strategy.
type Stream struct {
	desc     *salesforce.EntityDescriptor
	strategy core.Strategy
	cursor   string

	client  *salesforce.Client
	querier *rest.Querier
	// chunkQuerier always runs in queryAll mode. Chunked reads merge on the
	// primary key, and rows deleted between chunk queries would otherwise
	// leave partially-populated records.
	chunkQuerier *rest.Querier
	jobs         *bulk.Manager
	cfg          *config.SyncConfig
	logger       *zap.Logger

	parent *ParentLink
}

// NewStream builds a stream for an entity, selecting its strategy and
// cursor. fullRefresh forces a single unbounded slice.
func NewStream(client *salesforce.Client, querier *rest.Querier, jobs *bulk.Manager,
	cfg *config.SyncConfig, desc *salesforce.EntityDescriptor, fullRefresh bool) (*Stream, error) {

	strategy, err := SelectStrategy(desc)
	if err != nil {
		return nil, err
	}

	cursor := ""
	if !fullRefresh {
		cursor = cursorFieldFor(desc)
	}

	return &Stream{
		desc:         desc,
		strategy:     strategy,
		cursor:       cursor,
		client:       client,
		querier:      querier,
		chunkQuerier: rest.NewQuerier(client, true),
		jobs:         jobs,
		cfg:          cfg,
		logger: logger.Get().With(
			zap.String("component", "stream"),
			zap.String("stream", desc.Name)),
	}, nil
}

// NewSubStream builds a parent-keyed child stream. Sub-streams always read
// over REST: their IN-clause queries are small and bulk jobs per parent
// batch would be wasteful.
func NewSubStream(client *salesforce.Client, querier *rest.Querier,
	cfg *config.SyncConfig, desc *salesforce.EntityDescriptor, link ParentLink) (*Stream, error) {

	if link.Parent == nil || link.ParentKey == "" || link.ChildField == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "sub-stream needs a parent stream, parent key and child field")
	}

	return &Stream{
		desc:         desc,
		strategy:     core.StrategyRest,
		client:       client,
		querier:      querier,
		chunkQuerier: rest.NewQuerier(client, true),
		cfg:          cfg,
		parent:       &link,
		logger: logger.Get().With(
			zap.String("component", "stream"),
			zap.String("stream", desc.Name)),
	}, nil
}

func (s *Stream) Name() string            { return s.desc.Name }
func (s *Stream) PrimaryKey() string      { return s.desc.PrimaryKey() }
func (s *Stream) CursorField() string     { return s.cursor }
func (s *Stream) Strategy() core.Strategy { return s.strategy }

// startTime resolves the lower bound of the first slice: the saved cursor
// when present, otherwise the configured start date, otherwise the default
// lookback.
func (s *Stream) startTime(state core.StreamState) (time.Time, error) {
	if state.Cursor != "" {
		t, err := time.Parse(SOQLTimeLayout, state.Cursor)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, errors.ErrorTypeData, "invalid saved cursor %q", state.Cursor)
		}
		return t, nil
	}
	if s.cfg.Salesforce.StartDate != "" {
		t, err := time.Parse(time.RFC3339, s.cfg.Salesforce.StartDate)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, errors.ErrorTypeConfig, "invalid start_date %q", s.cfg.Salesforce.StartDate)
		}
		return t, nil
	}
	return time.Now().Add(-DefaultLookback), nil
}

// Slices produces the work units for one sync of this stream. Incremental
// streams get fixed-width time windows from the saved cursor to now;
// sub-streams get batches of parent records; full-refresh streams get a
// single unbounded slice.
func (s *Stream) Slices(ctx context.Context, state core.StreamState) ([]core.Slice, error) {
	if s.parent != nil {
		return s.parentSlices(ctx)
	}

	if s.cursor == "" {
		return []core.Slice{{}}, nil
	}

	start, err := s.startTime(state)
	if err != nil {
		return nil, err
	}

	step := time.Duration(s.cfg.Performance.SliceStepDays) * 24 * time.Hour
	now := time.Now().UTC()

	var slices []core.Slice
	for cur := start.UTC(); cur.Before(now); cur = cur.Add(step) {
		end := cur.Add(step)
		if end.After(now) {
			end = now
		}
		slices = append(slices, core.Slice{StartDate: cur, EndDate: end})
	}

	s.logger.Debug("generated slices",
		zap.Int("count", len(slices)),
		zap.Time("start", start))
	return slices, nil
}

// parentSlices reads the parent stream and batches its records into
// IN-clause slices.
func (s *Stream) parentSlices(ctx context.Context) ([]core.Slice, error) {
	parentSlices, err := s.parent.Parent.Slices(ctx, core.StreamState{})
	if err != nil {
		return nil, err
	}

	batchSize := s.cfg.Performance.SliceBatchSize
	var slices []core.Slice
	batch := make([]core.Record, 0, batchSize)

	for _, ps := range parentSlices {
		it, err := s.parent.Parent.Read(ctx, ps, core.StreamState{})
		if err != nil {
			return nil, err
		}
		for {
			rec, err := it.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				it.Close()
				return nil, err
			}
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				slices = append(slices, core.Slice{Parents: batch})
				batch = make([]core.Record, 0, batchSize)
			}
		}
		if err := it.Close(); err != nil {
			return nil, err
		}
	}
	if len(batch) > 0 {
		slices = append(slices, core.Slice{Parents: batch})
	}

	return slices, nil
}

// buildQuery renders the SOQL for one slice over the given fields.
func (s *Stream) buildQuery(fields []string, slice core.Slice) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(fields, ","))
	b.WriteString(" FROM ")
	b.WriteString(s.desc.Name)

	var where []string
	if s.cursor != "" && !slice.StartDate.IsZero() {
		where = append(where,
			fmt.Sprintf("%s >= %s", s.cursor, FormatCursor(slice.StartDate)),
			fmt.Sprintf("%s < %s", s.cursor, FormatCursor(slice.EndDate)))
	}
	if slice.IsParentSlice() && s.parent != nil {
		keys := make([]string, 0, len(slice.Parents))
		for _, rec := range slice.Parents {
			if id, ok := rec[s.parent.ParentKey].(string); ok && id != "" {
				keys = append(keys, "'"+id+"'")
			}
		}
		where = append(where, fmt.Sprintf("%s IN (%s)", s.parent.ChildField, strings.Join(keys, ",")))
	}
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	return b.String()
}

// Read opens a record iterator over one slice. A bulk stream whose job
// submission reports an unsupported entity falls back to a REST read for
// that slice and all later ones.
func (s *Stream) Read(ctx context.Context, slice core.Slice, state core.StreamState) (core.RecordIterator, error) {
	if s.strategy == core.StrategyRest {
		return s.readRest(ctx, slice)
	}
	return s.readBulk(ctx, slice)
}

// readBulk submits a bulk query job, waits for it and streams its result
// pages.
func (s *Stream) readBulk(ctx context.Context, slice core.Slice) (core.RecordIterator, error) {
	query := s.buildQuery(s.desc.FieldNames(), slice)

	job, err := s.jobs.CreateJob(ctx, s.desc.Name, query)
	if err != nil {
		if salesforce.IsUnsupportedEntity(err) {
			s.logger.Warn("bulk job rejected, falling back to REST for this stream", zap.Error(err))
			s.strategy = core.StrategyRest
			return s.readRest(ctx, slice)
		}
		return nil, err
	}

	if _, err := s.jobs.WaitForJob(ctx, s.desc.Name, job.ID); err != nil {
		s.cleanupJob(ctx, job.ID)
		return nil, err
	}

	jobID := job.ID
	pageSize := s.cfg.Performance.PageSize

	return newStreamIterator(ctx, func(ctx context.Context, out chan<- core.Record) error {
		defer func() {
			if err := s.jobs.DeleteJob(context.WithoutCancel(ctx), jobID); err != nil {
				s.logger.Warn("failed to delete bulk job", zap.String("job_id", jobID), zap.Error(err))
			}
		}()

		locator := ""
		for {
			spool, page, err := s.jobs.FetchResultsPage(ctx, jobID, locator, pageSize)
			if err != nil {
				return err
			}
			if err := s.emitSpool(ctx, spool, out); err != nil {
				return err
			}
			if page.Done {
				return nil
			}
			locator = page.Locator
		}
	}), nil
}

// cleanupJob aborts and deletes a job whose results will never be consumed.
// Abort moves a still-running job to a terminal state so the delete can
// succeed; both calls are best-effort.
func (s *Stream) cleanupJob(ctx context.Context, jobID string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.jobs.AbortJob(ctx, jobID); err != nil {
		s.logger.Warn("failed to abort bulk job", zap.String("job_id", jobID), zap.Error(err))
	}
	if err := s.jobs.DeleteJob(ctx, jobID); err != nil {
		s.logger.Warn("failed to delete bulk job", zap.String("job_id", jobID), zap.Error(err))
	}
}

// emitSpool reads one spooled result page and sends its records. The spool
// file is removed on every exit path.
func (s *Stream) emitSpool(ctx context.Context, spool *bulk.Spool, out chan<- core.Record) error {
	defer spool.Remove()

	reader, err := spool.Open()
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		rec, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case out <- rec:
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "read canceled")
		}
	}
}

// readRest reads a slice over the REST query API, chunking the field list
// when it cannot fit in one URL.
func (s *Stream) readRest(ctx context.Context, slice core.Slice) (core.RecordIterator, error) {
	fields := s.desc.FieldNames()

	if !rest.NeedsChunking(fields) {
		return newStreamIterator(ctx, func(ctx context.Context, out chan<- core.Record) error {
			return s.querier.Query(ctx, s.buildQuery(fields, slice), func(rec core.Record) error {
				select {
				case out <- rec:
					return nil
				case <-ctx.Done():
					return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "read canceled")
				}
			})
		}), nil
	}

	pk := s.desc.PrimaryKey()
	chunks, err := rest.ChunkProperties(fields, pk)
	if err != nil {
		return nil, err
	}

	acc := rest.NewAccumulator(pk)
	for _, chunk := range chunks {
		records, err := s.chunkQuerier.QueryAllRecords(ctx, s.buildQuery(chunk, slice))
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if err := acc.Upsert(rec); err != nil {
				return nil, err
			}
		}
	}

	s.logger.Debug("merged chunked read",
		zap.Int("chunks", len(chunks)),
		zap.Int("records", acc.Len()))
	return newSliceIterator(acc.Records()), nil
}
