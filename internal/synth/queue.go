// Package synth serializes text-to-speech work so clips come back in the
// order their sentences were produced.
package synth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("synth: queue closed")

// Synthesizer converts one sentence to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Job is one sentence waiting for synthesis. Seq starts at 1 and follows
// submission order.
type Job struct {
	Seq  int
	Text string
}

// Result is a synthesized job.
type Result struct {
	Seq   int
	Text  string
	Audio []byte
}

// Config holds the Queue callbacks and limits.
type Config struct {
	// Deliver receives each result. The next job does not start until it returns.
	Deliver func(ctx context.Context, r Result) error
	// OnError is told about jobs whose synthesis or delivery failed. Optional.
	OnError func(job Job, err error)
	// Timeout bounds a single synthesis call. Zero means no limit.
	Timeout time.Duration
}

// Queue is a FIFO of synthesis jobs processed by a single worker.
type Queue struct {
	synth Synthesizer
	cfg   Config

	mu      sync.Mutex
	pending []Job
	nextSeq int
	closed  bool

	wake chan struct{} // signaled when pending becomes non-empty
	done chan struct{} // closed by Close
}

// NewQueue creates a queue. Call Run to start processing.
func NewQueue(s Synthesizer, cfg Config) *Queue {
	return &Queue{
		synth:   s,
		cfg:     cfg,
		nextSeq: 1,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Submit schedules one synthesis for text and returns its job.
func (q *Queue) Submit(text string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Job{}, ErrClosed
	}
	job := Job{Seq: q.nextSeq, Text: text}
	q.nextSeq++
	q.pending = append(q.pending, job)

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return job, nil
}

// Len returns the number of jobs not yet started.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close drops pending jobs without running them. A job already in flight
// finishes or observes cancellation through the context passed to Run.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.pending = nil
	close(q.done)
}

// Run processes jobs one at a time until ctx is done or Close is called.
// It always returns nil so it can share an errgroup with the connection.
func (q *Queue) Run(ctx context.Context) error {
	for {
		job, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-q.done:
				return nil
			case <-q.wake:
			}
			continue
		}

		if err := q.process(ctx, job); err != nil && q.cfg.OnError != nil {
			q.cfg.OnError(job, err)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (q *Queue) next() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.pending) == 0 {
		return Job{}, false
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	return job, true
}

func (q *Queue) process(ctx context.Context, job Job) error {
	callCtx := ctx
	if q.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, q.cfg.Timeout)
		defer cancel()
	}

	audio, err := q.synth.Synthesize(callCtx, job.Text)
	if err != nil {
		return fmt.Errorf("synthesize job %d: %w", job.Seq, err)
	}
	if q.cfg.Deliver == nil {
		return nil
	}
	if err := q.cfg.Deliver(ctx, Result{Seq: job.Seq, Text: job.Text, Audio: audio}); err != nil {
		return fmt.Errorf("deliver job %d: %w", job.Seq, err)
	}
	return nil
}
