package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Runner is a single synchronous detection pass; *Detector implements it.
type Runner interface {
	Run(frame Frame) (DetectionResult, error)
}

// Stats are cumulative counters since the pipeline started.
type Stats struct {
	Submitted       int64 `json:"submitted"`
	Dropped         int64 `json:"dropped"`
	Processed       int64 `json:"processed"`
	Empty           int64 `json:"empty"`
	Failed          int64 `json:"failed"`
	LastInferenceMs int64 `json:"lastInferenceMs"`
}

// Pipeline runs detection on a single background worker. Frames are submitted
// with a keep-only-latest policy: a frame waiting for the worker is replaced by
// a newer one, while the frame being processed always finishes.
//
// Listener callbacks are made from the worker, one at a time, in processing order.
// Nothing is delivered once Close has been called.
type Pipeline struct {
	runner   Runner
	listener Listener
	logger   *zap.Logger

	mu      sync.Mutex
	pending *Frame
	closed  bool
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	submitted, dropped, processed, empty, failed atomic.Int64
	lastInferenceMs                              atomic.Int64

	inferenceWarn  sync.Once
	preprocessWarn sync.Once
}

func NewPipeline(runner Runner, listener Listener, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if listener == nil {
		listener = ListenerFuncs{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		runner:   runner,
		listener: listener,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go p.worker()
	return p
}

// Detect queues frame for processing and returns immediately.
func (p *Pipeline) Detect(frame Frame) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPipelineClosed
	}
	if p.pending != nil {
		p.dropped.Inc()
	}
	p.pending = &frame
	p.mu.Unlock()
	p.submitted.Inc()

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *Pipeline) take() (Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return Frame{}, false
	}
	f := *p.pending
	p.pending = nil
	return f, true
}

func (p *Pipeline) worker() {
	defer close(p.done)
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.wake:
		}
		if frame, ok := p.take(); ok {
			p.process(frame)
		}
	}
}

func (p *Pipeline) process(frame Frame) {
	result, err := p.runner.Run(frame)
	if p.ctx.Err() != nil {
		return
	}
	if err != nil {
		p.failed.Inc()
		var (
			decodeErr     *DecodeError
			inferenceErr  *InferenceError
			preprocessErr *PreprocessError
		)
		switch {
		case errors.As(err, &decodeErr):
			p.logger.Debug("undecodable output, reporting empty frame", zap.Error(err))
			p.empty.Inc()
			p.deliver(func() { p.listener.OnEmpty() })
		case errors.As(err, &inferenceErr):
			p.logOnce(&p.inferenceWarn, "inference failed, dropping frame", err)
		case errors.As(err, &preprocessErr):
			p.logOnce(&p.preprocessWarn, "frame rejected", err)
		default:
			p.logger.Error("detection failed, dropping frame", zap.Error(err))
		}
		return
	}

	p.processed.Inc()
	p.lastInferenceMs.Store(result.InferenceTimeMs())
	if len(result.Boxes) == 0 {
		p.empty.Inc()
		p.deliver(func() { p.listener.OnEmpty() })
		return
	}
	p.deliver(func() { p.listener.OnDetections(result.Boxes, result.InferenceTimeMs()) })
}

// logOnce warns about the first failure of a kind and keeps the rest at debug level.
func (p *Pipeline) logOnce(once *sync.Once, msg string, err error) {
	warned := false
	once.Do(func() {
		warned = true
		p.logger.Warn(msg, zap.Error(err))
	})
	if !warned {
		p.logger.Debug(msg, zap.Error(err))
	}
}

func (p *Pipeline) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("listener panic recovered", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	fn()
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Submitted:       p.submitted.Load(),
		Dropped:         p.dropped.Load(),
		Processed:       p.processed.Load(),
		Empty:           p.empty.Load(),
		Failed:          p.failed.Load(),
		LastInferenceMs: p.lastInferenceMs.Load(),
	}
}

// Close stops the worker, discarding any queued frame. A run already in
// progress is allowed to finish but its result is not delivered.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.pending != nil {
		p.dropped.Inc()
		p.pending = nil
	}
	p.mu.Unlock()

	p.cancel()
	<-p.done
	return nil
}
