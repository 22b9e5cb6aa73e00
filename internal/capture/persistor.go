package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/heqingpan/ai-req-proxy/internal/transcript"
)

// Defaults for the worker pool.
const (
	DefaultWorkers   = 2
	DefaultQueueSize = 256
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("capture: persistor closed")

// ErrQueueFull is returned by Submit when the job had to be dropped.
var ErrQueueFull = errors.New("capture: queue full")

// Config configures a Persistor.
type Config struct {
	Dir       string
	Workers   int
	QueueSize int
	// RunID tags index rows so ids from different process runs never collide.
	RunID string
}

// Option customizes a Persistor.
type Option func(*Persistor)

// WithIndex records every written artifact in idx.
func WithIndex(idx *Index) Option {
	return func(p *Persistor) { p.index = idx }
}

// WithObserver reports capture outcomes to o.
func WithObserver(o Observer) Option {
	return func(p *Persistor) {
		if o != nil {
			p.observer = o
		}
	}
}

// Persistor writes captured bodies to disk off the relay path.
type Persistor struct {
	dir      string
	runID    string
	workers  int
	index    *Index
	observer Observer

	jobs   chan Job
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewPersistor creates a persistor and starts its workers.
func NewPersistor(cfg Config, opts ...Option) *Persistor {
	p := newPersistor(cfg, opts...)
	p.start()
	return p
}

func newPersistor(cfg Config, opts ...Option) *Persistor {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	p := &Persistor{
		dir:      cfg.Dir,
		runID:    cfg.RunID,
		workers:  cfg.Workers,
		observer: nopObserver{},
		jobs:     make(chan Job, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Persistor) start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Dir returns the capture root directory.
func (p *Persistor) Dir() string { return p.dir }

// RunID returns the id tagging this process's index rows.
func (p *Persistor) RunID() string { return p.runID }

// Submit queues a job without blocking. The job is dropped when the queue is
// full or the persistor is closed.
func (p *Persistor) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.observer.CaptureDropped(string(job.Kind))
		return ErrClosed
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		log.Error().
			Int64("req_id", job.Record.ID).
			Str("kind", string(job.Kind)).
			Int("bytes", len(job.Body)).
			Msg("capture: queue full, dropping artifact")
		p.observer.CaptureDropped(string(job.Kind))
		return ErrQueueFull
	}
}

// StoreRequest queues the raw request body and its transcript.
func (p *Persistor) StoreRequest(rec Record, body []byte, truncated bool) error {
	return p.Submit(Job{Record: rec, Kind: KindRequest, Body: body, Truncated: truncated})
}

// StoreResponse queues the raw response body.
func (p *Persistor) StoreResponse(rec Record, body []byte, status int, mode string, truncated bool) error {
	return p.Submit(Job{Record: rec, Kind: KindResponse, Body: body, Status: status, Mode: mode, Truncated: truncated})
}

// Close stops accepting jobs and waits until queued jobs are written.
func (p *Persistor) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *Persistor) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.process(job)
	}
}

func (p *Persistor) process(job Job) {
	path, err := p.Store(job.Record, job.Kind, job.Body)
	if err != nil {
		return
	}
	p.addIndex(job, job.Kind, path, len(job.Body))

	if job.Kind != KindRequest {
		return
	}
	text, ok := transcript.RenderBytes(job.Body)
	if !ok {
		return
	}
	if path, err := p.StoreTranscript(job.Record, text); err == nil {
		p.addIndex(job, KindTranscript, path, len(text))
	}
}

// Store writes one artifact synchronously and returns its path. Failures are
// logged and reported to the observer.
func (p *Persistor) Store(rec Record, kind Kind, body []byte) (string, error) {
	path := rec.Path(p.dir, kind)
	if err := writeFile(path, body); err != nil {
		log.Error().
			Err(err).
			Int64("req_id", rec.ID).
			Str("kind", string(kind)).
			Str("path", path).
			Msg("capture: write failed")
		p.observer.CaptureFailed(string(kind))
		return "", err
	}
	log.Debug().
		Int64("req_id", rec.ID).
		Str("kind", string(kind)).
		Str("path", path).
		Int("bytes", len(body)).
		Msg("capture: saved")
	p.observer.CaptureWritten(string(kind), len(body))
	return path, nil
}

// StoreTranscript writes a rendered transcript synchronously.
func (p *Persistor) StoreTranscript(rec Record, text string) (string, error) {
	return p.Store(rec, KindTranscript, []byte(text))
}

func (p *Persistor) addIndex(job Job, kind Kind, path string, size int) {
	if p.index == nil {
		return
	}
	entry := Entry{
		RunID:      p.runID,
		ReqID:      job.Record.ID,
		Kind:       kind,
		Date:       job.Record.Date(),
		ReceivedAt: job.Record.ReceivedAt,
		Method:     job.Record.Method,
		URL:        job.Record.URL,
		Status:     job.Status,
		Mode:       job.Mode,
		Path:       path,
		Size:       int64(size),
		Truncated:  job.Truncated,
	}
	if err := p.index.Add(context.Background(), entry); err != nil {
		log.Warn().Err(err).Int64("req_id", job.Record.ID).Msg("capture: index insert failed")
	}
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create capture dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write capture file: %w", err)
	}
	return nil
}
