// Package writer drives the normalization pass: it pulls raw records from a
// source, resolves and synthesizes each one independently and appends one
// serialized line per accepted record to an output stream.
//
// Per-record failures are counted and never abort the batch. Source read
// failures and output write failures are fatal. Lines are always written in
// source order, whole, and the output is flushed on every exit path.
package writer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"goa.design/agentcorpus/runtime/corpus/failure"
	"goa.design/agentcorpus/runtime/corpus/resolve"
	"goa.design/agentcorpus/runtime/corpus/synth"
	"goa.design/agentcorpus/runtime/corpus/telemetry"
	"goa.design/agentcorpus/runtime/corpus/tools"
)

// DefaultProgressEvery is the number of successes between progress logs.
const DefaultProgressEvery = 100

const (
	metricSucceeded = "corpus.records.succeeded"
	metricFailed    = "corpus.records.failed"
	metricDuration  = "corpus.write.duration"
)

type (
	// Source yields raw records until io.EOF. Errors classified as
	// recoverable by failure.IsRecoverable count as failed records; any other
	// error aborts the run.
	Source interface {
		Next(ctx context.Context) (resolve.RawRecord, error)
	}

	// ResolveFunc extracts the canonical pair from a raw record.
	ResolveFunc func(resolve.RawRecord) (resolve.Pair, bool)

	// Stats are the run counters. A record is counted once its outcome is
	// settled, so Succeeded+Failed always equals Consumed, including when Run
	// fails. Succeeded lines go through a buffered writer and are durable once
	// Run returns a nil error.
	Stats struct {
		Consumed  int
		Succeeded int
		Failed    int
	}

	// Writer serializes synthesized records to a sink.
	Writer struct {
		sink     io.Writer
		resolve  ResolveFunc
		synth    *synth.Synthesizer
		logger   telemetry.Logger
		metrics  telemetry.Metrics
		tracer   telemetry.Tracer
		progress int
		workers  int
		limit    int
	}

	// Option configures a Writer.
	Option func(*Writer)

	// outcome is the result for one consumed record, in source order.
	outcome struct {
		line []byte
		err  error
	}

	job struct {
		pair resolve.Pair
		tool tools.ToolDefinition
		res  chan<- outcome
	}
)

// WithLogger sets the logger.
func WithLogger(l telemetry.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(w *Writer) { w.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t telemetry.Tracer) Option {
	return func(w *Writer) { w.tracer = t }
}

// WithProgressEvery logs progress every n successes.
func WithProgressEvery(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.progress = n
		}
	}
}

// WithWorkers synthesizes and encodes records on n goroutines. Output order
// and content do not depend on n.
func WithWorkers(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithLimit stops after consuming n records. Zero means no limit.
func WithLimit(n int) Option {
	return func(w *Writer) {
		if n >= 0 {
			w.limit = n
		}
	}
}

// New returns a Writer appending to sink.
func New(sink io.Writer, resolver ResolveFunc, s *synth.Synthesizer, opts ...Option) *Writer {
	w := &Writer{
		sink:     sink,
		resolve:  resolver,
		synth:    s,
		logger:   telemetry.NewNoopLogger(),
		metrics:  telemetry.NewNoopMetrics(),
		tracer:   telemetry.NewNoopTracer(),
		progress: DefaultProgressEvery,
		workers:  1,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run consumes src to completion and returns the counters. The returned
// error is non-nil only for fatal conditions; Stats reflect the records
// handled up to that point.
func (w *Writer) Run(ctx context.Context, src Source) (stats Stats, err error) {
	if w.synth == nil || w.resolve == nil {
		return Stats{}, failure.New(failure.KindConfig, "writer requires a resolver and a synthesizer")
	}
	start := time.Now()
	ctx, span := w.tracer.Start(ctx, "corpus.write", "workers", w.workers, "limit", w.limit)
	defer func() {
		span.Finish(err)
		w.metrics.RecordTimer(metricDuration, time.Since(start))
	}()

	bw := bufio.NewWriter(w.sink)
	defer func() {
		if ferr := bw.Flush(); ferr != nil && err == nil {
			err = failure.Wrap(failure.KindIO, "flush output", ferr)
		}
	}()

	progress := &rate.Sometimes{Every: w.progress}
	emit := func(o outcome) error {
		if o.err != nil {
			stats.Consumed++
			stats.Failed++
			w.recordFailure(ctx, stats.Consumed, o.err)
			return nil
		}
		if _, werr := bw.Write(append(o.line, '\n')); werr != nil {
			return failure.Wrap(failure.KindIO, "write output", werr)
		}
		stats.Consumed++
		stats.Succeeded++
		w.metrics.IncCounter(metricSucceeded, 1)
		progress.Do(func() {
			w.logger.Info(ctx, "processed records", "succeeded", stats.Succeeded)
			span.AddEvent("progress", "succeeded", stats.Succeeded)
		})
		return nil
	}

	if w.workers <= 1 {
		err = w.sequential(ctx, src, emit)
	} else {
		err = w.parallel(ctx, src, emit)
	}
	if err != nil {
		w.logger.Error(ctx, "normalization aborted", "err", err, "consumed", stats.Consumed)
		return stats, err
	}
	w.logger.Info(ctx, "normalization completed",
		"consumed", stats.Consumed, "succeeded", stats.Succeeded, "failed", stats.Failed)
	return stats, nil
}

func (w *Writer) sequential(ctx context.Context, src Source, emit func(outcome) error) error {
	for consumed := 0; w.limit == 0 || consumed < w.limit; consumed++ {
		p, err := w.next(ctx, src)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		out := p.outcome
		if out.err == nil {
			out = w.encode(p.pair, p.tool)
		}
		if err := emit(out); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) parallel(ctx context.Context, src Source, emit func(outcome) error) error {
	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan job, w.workers)
	order := make(chan chan outcome, 4*w.workers)

	g.Go(func() error {
		defer close(jobs)
		defer close(order)
		for consumed := 0; w.limit == 0 || consumed < w.limit; consumed++ {
			p, err := w.next(gctx, src)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			// A future enters the order queue only once it is guaranteed to
			// be filled, so the drain loop never blocks on a dropped job.
			res := make(chan outcome, 1)
			if p.err != nil {
				res <- p.outcome
			} else {
				select {
				case jobs <- job{pair: p.pair, tool: p.tool, res: res}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			select {
			case order <- res:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for range w.workers {
		g.Go(func() error {
			for j := range jobs {
				j.res <- w.encode(j.pair, j.tool)
			}
			return nil
		})
	}

	g.Go(func() error {
		for res := range order {
			if err := emit(<-res); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

// pending is a consumed record after the sequential stage: either a failed
// outcome or a resolved pair with its chosen tool.
type pending struct {
	outcome
	pair resolve.Pair
	tool tools.ToolDefinition
}

// next pulls one record and runs the order-sensitive stage: resolution and
// tool choice. It returns io.EOF at the end of the source and a non-nil
// error only for fatal conditions.
func (w *Writer) next(ctx context.Context, src Source) (pending, error) {
	if err := ctx.Err(); err != nil {
		return pending{}, err
	}
	raw, err := src.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return pending{}, io.EOF
		}
		if failure.IsRecoverable(err) {
			return pending{outcome: outcome{err: err}}, nil
		}
		return pending{}, fmt.Errorf("read source: %w", err)
	}
	pair, ok := w.resolve(raw)
	if !ok {
		return pending{outcome: outcome{err: failure.New(failure.KindUnusable, "no instruction or response field")}}, nil
	}
	return pending{pair: pair, tool: w.synth.Pick()}, nil
}

func (w *Writer) encode(pair resolve.Pair, tool tools.ToolDefinition) outcome {
	rec, err := w.synth.Build(pair, tool)
	if err != nil {
		return outcome{err: err}
	}
	line, err := rec.MarshalLine()
	if err != nil {
		return outcome{err: failure.Wrap(failure.KindSerialization, "encode record", err)}
	}
	return outcome{line: line}
}

func (w *Writer) recordFailure(ctx context.Context, n int, err error) {
	kind := failure.KindOf(err)
	w.metrics.IncCounter(metricFailed, 1, "kind", string(kind))
	if kind == failure.KindUnusable {
		w.logger.Debug(ctx, "skipped record", "record", n, "err", err)
		return
	}
	w.logger.Warn(ctx, "record failed", "record", n, "kind", string(kind), "err", err)
}
