// Package pipeline drives batch generation, encoding and upload at bounded
// concurrency.
package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/szibis/influx-loadgen/internal/compression"
	"github.com/szibis/influx-loadgen/internal/exporter"
	"github.com/szibis/influx-loadgen/internal/logging"
	"github.com/szibis/influx-loadgen/internal/stats"
)

// DefaultConcurrency is the number of batches in flight when not configured.
const DefaultConcurrency = 4

// BatchGenerator produces one batch payload of the given line count.
type BatchGenerator interface {
	Generate(ctx context.Context, lines int) ([]byte, error)
}

// Sender ships one encoded payload, retrying transient failures internally.
type Sender interface {
	Send(ctx context.Context, p exporter.Payload) error
}

// Observer is notified of acknowledged batches, strictly in issuance order.
type Observer interface {
	BatchSent(index uint64)
}

// LogObserver logs each acknowledged batch.
type LogObserver struct{}

// BatchSent implements Observer.
func (LogObserver) BatchSent(index uint64) {
	logging.Info("batch sent", logging.F("batch", index+1))
}

// Config holds the pipeline parameters.
type Config struct {
	// Lines is the number of records per batch.
	Lines int
	// Batches is the total number of batches; 0 means unbounded.
	Batches uint64
	// Concurrency is the maximum number of batches simultaneously in the
	// generate/encode/send path. Zero means DefaultConcurrency.
	Concurrency int
	// Compression selects the payload encoding.
	Compression compression.Level
}

// Pipeline fans batch indices out to a bounded worker pool. Each unit of
// work generates, encodes and sends one batch; successes are reported to the
// observer in issuance order and the first fatal error aborts the run.
type Pipeline struct {
	gen       BatchGenerator
	sender    Sender
	observer  Observer
	collector *stats.Collector
	cfg       Config
}

// New creates a Pipeline. observer and collector may be nil.
func New(gen BatchGenerator, sender Sender, observer Observer, collector *stats.Collector, cfg Config) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Pipeline{
		gen:       gen,
		sender:    sender,
		observer:  observer,
		collector: collector,
		cfg:       cfg,
	}
}

// Run executes the batch stream until it is exhausted, a fatal error is
// observed, or ctx is cancelled. Admission of new batches stops on the
// first fatal error; work already in flight finishes, and the first error
// is returned. A nil return means every issued batch was acknowledged.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	// Completed indices arrive out of order; the reporter re-sequences
	// them so the observer sees index i only after i-1.
	results := make(chan uint64, p.cfg.Concurrency)
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		pending := make(map[uint64]struct{})
		next := uint64(0)
		for idx := range results {
			pending[idx] = struct{}{}
			for {
				if _, ok := pending[next]; !ok {
					break
				}
				delete(pending, next)
				if p.observer != nil {
					p.observer.BatchSent(next)
				}
				next++
			}
		}
	}()

	// Feeder: g.Go blocks while the pool is full, so admission never
	// exceeds the concurrency ceiling. Group-context cancellation on the
	// first fatal error stops the loop.
	for i := uint64(0); p.cfg.Batches == 0 || i < p.cfg.Batches; i++ {
		if ctx.Err() != nil {
			break
		}
		idx := i
		g.Go(func() error {
			if err := p.process(ctx, idx); err != nil {
				if p.collector != nil {
					p.collector.RecordError()
				}
				return err
			}
			select {
			case results <- idx:
			case <-ctx.Done():
			}
			return nil
		})
	}

	err := g.Wait()
	close(results)
	<-reporterDone
	return err
}

// process runs one unit of work: generate, encode, send.
func (p *Pipeline) process(ctx context.Context, idx uint64) error {
	raw, err := p.gen.Generate(ctx, p.cfg.Lines)
	if err != nil {
		return fmt.Errorf("generate batch %d: %w", idx, err)
	}

	body, encoding, err := compression.Encode(raw, p.cfg.Compression)
	if err != nil {
		return fmt.Errorf("compress data: %w", err)
	}

	if err := p.sender.Send(ctx, exporter.Payload{Body: body, ContentEncoding: encoding}); err != nil {
		return fmt.Errorf("batch %d: %w", idx, err)
	}

	if p.collector != nil {
		p.collector.RecordBatch(p.cfg.Lines, len(raw), len(body))
	}
	return nil
}
