package salesforce

import (
	"context"
	"io"

	"github.com/crestdata/forcesync/pkg/connector/core"
)

// sliceIterator yields records already collected in memory. Used for
// chunked REST reads, which merge whole result sets before emitting.
type sliceIterator struct {
	records []core.Record
	pos     int
}

func newSliceIterator(records []core.Record) *sliceIterator {
	return &sliceIterator{records: records}
}

func (it *sliceIterator) Next() (core.Record, error) {
	if it.pos >= len(it.records) {
		return nil, io.EOF
	}
	r := it.records[it.pos]
	it.pos++
	return r, nil
}

func (it *sliceIterator) Close() error { return nil }

type iterItem struct {
	record core.Record
	err    error
}

// streamIterator pulls records from a producer goroutine. The producer
// sends a final error item (never io.EOF) before closing the channel; a
// clean close means the slice is exhausted.
type streamIterator struct {
	ch     chan iterItem
	cancel context.CancelFunc
	failed error
}

// newStreamIterator starts produce in a goroutine. produce must respect
// ctx and return the terminal error, nil for a clean finish.
func newStreamIterator(ctx context.Context, produce func(ctx context.Context, out chan<- core.Record) error) *streamIterator {
	ctx, cancel := context.WithCancel(ctx)
	it := &streamIterator{
		ch:     make(chan iterItem, 64),
		cancel: cancel,
	}

	records := make(chan core.Record)
	go func() {
		defer close(it.ch)
		done := make(chan error, 1)
		go func() {
			defer close(records)
			done <- produce(ctx, records)
		}()
		for r := range records {
			select {
			case it.ch <- iterItem{record: r}:
			case <-ctx.Done():
				<-done
				return
			}
		}
		if err := <-done; err != nil {
			it.ch <- iterItem{err: err}
		}
	}()

	return it
}

func (it *streamIterator) Next() (core.Record, error) {
	if it.failed != nil {
		return nil, it.failed
	}
	item, ok := <-it.ch
	if !ok {
		return nil, io.EOF
	}
	if item.err != nil {
		it.failed = item.err
		return nil, item.err
	}
	return item.record, nil
}

func (it *streamIterator) Close() error {
	it.cancel()
	for range it.ch {
		// drain so the producer goroutine can exit
	}
	return nil
}
