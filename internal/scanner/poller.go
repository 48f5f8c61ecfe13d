// Package scanner detects new and modified objects by periodically scanning
// every tracked container in full and comparing last-modified times against
// per-container watermarks.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dagucloud/blobtrigger/internal/cmn/logger"
	"github.com/dagucloud/blobtrigger/internal/cmn/logger/tag"
	"github.com/dagucloud/blobtrigger/internal/core/blob"
	"github.com/dagucloud/blobtrigger/internal/core/watermark"
	"github.com/dagucloud/blobtrigger/internal/metrics"
)

// ErrPollInProgress is returned when Poll is called while another Poll on
// the same Poller has not returned yet.
var ErrPollInProgress = errors.New("poll already in progress")

// Sink receives each newly detected object. It is called synchronously on
// the polling goroutine, so a slow sink delays the rest of the pass.
type Sink func(ctx context.Context, obj blob.Object)

// Clock returns the current time. It is only used to time scans.
type Clock func() time.Time

// Poller runs poll passes over a watermark set. It keeps no state between
// passes other than the set itself.
type Poller struct {
	store    blob.Store
	set      *watermark.Set
	metrics  *metrics.Metrics
	clock    Clock
	inFlight atomic.Bool
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithMetrics records poll and scan metrics.
func WithMetrics(m *metrics.Metrics) PollerOption {
	return func(p *Poller) {
		p.metrics = m
	}
}

// WithClock replaces the clock used to time scans.
func WithClock(clock Clock) PollerOption {
	return func(p *Poller) {
		p.clock = clock
	}
}

// NewPoller creates a Poller over set backed by store.
func NewPoller(store blob.Store, set *watermark.Set, opts ...PollerOption) *Poller {
	p := &Poller{
		store: store,
		set:   set,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Set returns the watermark set the poller advances.
func (p *Poller) Set() *watermark.Set {
	return p.set
}

// Poll performs one pass over every tracked container in index order,
// advancing each container's watermark and passing each new object to sink.
//
// Cancellation ends the pass early without error: it is checked before each
// container and before each listed object. Containers appended to the set
// while the pass runs are scanned in the same pass. A store failure other
// than an unavailable container or a vanished object aborts the pass and is
// returned; containers scanned before it keep their advanced watermarks.
func (p *Poller) Poll(ctx context.Context, sink Sink) error {
	if !p.inFlight.CompareAndSwap(false, true) {
		return ErrPollInProgress
	}
	defer p.inFlight.Store(false)

	p.metrics.SetContainersTracked(p.set.Len())

	for i := 0; i < p.set.Len(); i++ {
		if ctx.Err() != nil {
			p.metrics.PollFinished(metrics.PollCancelled)
			return nil
		}

		entry := p.set.At(i)
		name := entry.Container.Name

		start := p.clock()
		res, err := Scan(ctx, p.store, entry.Container, entry.Watermark)
		p.metrics.ObserveScan(name, p.clock().Sub(start))
		if err != nil {
			p.metrics.PollFinished(metrics.PollFailed)
			return fmt.Errorf("poll aborted at container %s: %w", name, err)
		}

		current := p.set.Advance(i, res.Watermark)
		p.record(ctx, name, entry.Watermark, current, res)

		if res.Cancelled {
			p.metrics.PollFinished(metrics.PollCancelled)
			return nil
		}

		for _, obj := range res.Objects {
			p.metrics.ObjectDetected(name)
			sink(ctx, obj)
		}
	}

	p.metrics.PollFinished(metrics.PollCompleted)
	return nil
}

func (p *Poller) record(ctx context.Context, name string, prior, current time.Time, res ScanResult) {
	p.metrics.SetWatermark(name, current)
	if res.Unavailable {
		p.metrics.ContainerUnavailable(name)
	}
	p.metrics.ObjectsSkipped(name, metrics.ReasonNotFound, res.SkippedNotFound)
	p.metrics.ObjectsSkipped(name, metrics.ReasonError, res.Skipped-res.SkippedNotFound)

	if len(res.Objects) > 0 || res.Skipped > 0 {
		logger.Info(ctx, "Container scanned",
			tag.Container(name),
			tag.Count(len(res.Objects)),
			tag.Skipped(res.Skipped),
			tag.PriorWatermark(prior),
			tag.Watermark(current),
		)
	}
}

// ScanOnce is a convenience for callers that want the detected objects of a
// single pass as a slice instead of through a sink.
func (p *Poller) ScanOnce(ctx context.Context) ([]blob.Object, error) {
	var objects []blob.Object
	err := p.Poll(ctx, func(_ context.Context, obj blob.Object) {
		objects = append(objects, obj)
	})
	return objects, err
}
