// Package pipeline drives a sync run: it walks the catalog's streams in
// order, reads their slices, emits record and state messages and enforces
// the graceful rate-limit contract.
package pipeline

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/crestdata/forcesync/pkg/config"
	"github.com/crestdata/forcesync/pkg/connector/core"
	"github.com/crestdata/forcesync/pkg/errors"
	"github.com/crestdata/forcesync/pkg/logger"
	"github.com/crestdata/forcesync/pkg/metrics"
	"github.com/crestdata/forcesync/pkg/salesforce"
)

// StreamStatus tracks a stream through its lifecycle.
type StreamStatus string

const (
	StatusNotStarted        StreamStatus = "not_started"
	StatusSlicingInProgress StreamStatus = "slicing_in_progress"
	StatusReadingRecords    StreamStatus = "reading_records"
	StatusCompleted         StreamStatus = "completed"
	StatusRateLimited       StreamStatus = "rate_limited"
	StatusFailed            StreamStatus = "failed"
)

// StreamResult is the outcome of one stream within a sync.
type StreamResult struct {
	Name    string       `json:"name"`
	Status  StreamStatus `json:"status"`
	Records int64        `json:"records"`

	// err holds the failure that put the stream into StatusFailed.
	err error
}

// SyncResult is the outcome of a whole run. RateLimited means the run
// stopped early but still counts as a success: emitted records and
// checkpoints stand, and the next run resumes from the saved cursors.
type SyncResult struct {
	Streams     []StreamResult `json:"streams"`
	RateLimited bool           `json:"rate_limited"`
	Records     int64          `json:"records"`
}

// Orchestrator runs syncs.
type Orchestrator struct {
	cfg     *config.SyncConfig
	emitter *core.Emitter
	logger  *zap.Logger

	mu    sync.Mutex
	state map[string]core.StreamState
}

// NewOrchestrator creates an orchestrator emitting protocol messages
// through the given emitter.
func NewOrchestrator(cfg *config.SyncConfig, emitter *core.Emitter) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		emitter: emitter,
		logger:  logger.Get().With(zap.String("component", "orchestrator")),
		state:   make(map[string]core.StreamState),
	}
}

// SetState seeds saved cursors from a previous run.
func (o *Orchestrator) SetState(state map[string]core.StreamState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for name, s := range state {
		o.state[name] = s
	}
}

func (o *Orchestrator) streamState(name string) core.StreamState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state[name]
}

func (o *Orchestrator) setCursor(name, cursor string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state[name] = core.StreamState{Cursor: cursor}
}

// checkpoint emits a state message with the current cursors.
func (o *Orchestrator) checkpoint(stream string) error {
	o.mu.Lock()
	snapshot := make(map[string]core.StreamState, len(o.state))
	for k, v := range o.state {
		snapshot[k] = v
	}
	o.mu.Unlock()

	metrics.StateCheckpoints.WithLabelValues(stream).Inc()
	return o.emitter.EmitState(snapshot)
}

// Run syncs every stream of the source's catalog, in order. A rate-limit
// error stops the run gracefully: the current stream's emitted records and
// checkpoints stand, later streams are never started and the run returns
// success. Any other stream error fails the run.
func (o *Orchestrator) Run(ctx context.Context, source core.Source) (*SyncResult, error) {
	streams, err := source.Streams(ctx)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}
	for _, stream := range streams {
		result.Streams = append(result.Streams, StreamResult{
			Name:   stream.Name(),
			Status: StatusNotStarted,
		})
	}

	// SessionLimit bounds concurrent streams. The default of 1 serializes
	// them, which keeps the rate-limit contract deterministic: with more
	// sessions, streams already started may still finish after a limit hit,
	// but no new stream starts.
	sem := make(chan struct{}, o.cfg.Performance.SessionLimit)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var fatal error

	for i, stream := range streams {
		mu.Lock()
		stopped := result.RateLimited || fatal != nil
		mu.Unlock()
		if stopped {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(idx int, st core.Stream) {
			defer wg.Done()
			defer func() { <-sem }()

			res := o.syncStream(ctx, st)

			mu.Lock()
			result.Streams[idx] = res
			result.Records += res.Records
			switch res.Status {
			case StatusRateLimited:
				result.RateLimited = true
			case StatusFailed:
				if fatal == nil {
					fatal = errors.Newf(errors.ErrorTypeInternal, "stream %s failed", res.Name)
				}
			}
			mu.Unlock()
		}(i, stream)

		// Serial mode waits here so the stop check above sees the outcome
		// before the next stream starts.
		if o.cfg.Performance.SessionLimit == 1 {
			wg.Wait()
		}
	}
	wg.Wait()

	if fatal != nil {
		return result, o.streamError(result)
	}

	if result.RateLimited {
		o.emitter.EmitLog("WARN", salesforce.RateLimitMessage)
		o.logger.Warn("sync stopped early on a rate limit",
			zap.Int64("records", result.Records))
	}

	// Final state closes the run even when nothing changed since the last
	// checkpoint.
	if err := o.checkpoint(""); err != nil {
		return result, err
	}

	o.logger.Info("sync finished",
		zap.Int64("records", result.Records),
		zap.Bool("rate_limited", result.RateLimited))
	return result, nil
}

// streamError returns the first failed stream's error, preserving its
// cause when the stream recorded one.
func (o *Orchestrator) streamError(result *SyncResult) error {
	for _, sr := range result.Streams {
		if sr.Status != StatusFailed {
			continue
		}
		if sr.err != nil {
			return errors.Wrapf(sr.err, errors.ErrorTypeInternal, "sync failed: stream %s did not complete", sr.Name)
		}
		return errors.Newf(errors.ErrorTypeInternal, "sync failed: stream %s did not complete", sr.Name)
	}
	return errors.New(errors.ErrorTypeInternal, "sync failed")
}

// syncStream runs one stream through its state machine.
func (o *Orchestrator) syncStream(ctx context.Context, stream core.Stream) StreamResult {
	res := StreamResult{Name: stream.Name(), Status: StatusSlicingInProgress}
	log := o.logger.With(zap.String("stream", stream.Name()))

	state := o.streamState(stream.Name())

	slices, err := stream.Slices(ctx, state)
	if err != nil {
		return o.finishStream(res, log, err)
	}

	res.Status = StatusReadingRecords
	strategy := string(stream.Strategy())
	sinceCheckpoint := 0

	for _, slice := range slices {
		it, err := stream.Read(ctx, slice, state)
		if err != nil {
			return o.finishStream(res, log, err)
		}

		readErr := func() error {
			defer it.Close()
			for {
				rec, err := it.Next()
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}

				if err := o.emitter.EmitRecord(stream.Name(), rec); err != nil {
					return err
				}
				metrics.RecordsRead.WithLabelValues(stream.Name(), strategy).Inc()
				res.Records++
				sinceCheckpoint++

				if sinceCheckpoint >= o.cfg.Performance.CheckpointInterval {
					if err := o.checkpoint(stream.Name()); err != nil {
						return err
					}
					sinceCheckpoint = 0
				}
			}
		}()
		if readErr != nil {
			return o.finishStream(res, log, readErr)
		}

		// Slice completed: advance the cursor so a restart skips it.
		if stream.CursorField() != "" && !slice.EndDate.IsZero() {
			o.setCursor(stream.Name(), core.FormatCursor(slice.EndDate))
		}
	}

	res.Status = StatusCompleted
	if err := o.checkpoint(stream.Name()); err != nil {
		return o.finishStream(res, log, err)
	}

	log.Info("stream completed", zap.Int64("records", res.Records))
	return res
}

// finishStream classifies a stream failure. Rate limits checkpoint the
// partial progress and end the stream without failing the sync.
func (o *Orchestrator) finishStream(res StreamResult, log *zap.Logger, err error) StreamResult {
	if errors.IsRateLimit(err) {
		res.Status = StatusRateLimited
		metrics.StreamsRateLimited.Inc()
		log.Warn("stream halted by a rate limit",
			zap.Int64("records", res.Records),
			zap.Error(err))
		if cerr := o.checkpoint(res.Name); cerr != nil {
			log.Error("failed to checkpoint after rate limit", zap.Error(cerr))
		}
		return res
	}

	res.Status = StatusFailed
	res.err = err
	log.Error("stream failed", zap.Int64("records", res.Records), zap.Error(err))
	return res
}
