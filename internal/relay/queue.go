package relay

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// DefaultQueueSize is the number of chunks buffered between the upstream
// reader and the client writer of a streamed response.
const DefaultQueueSize = 5

var (
	// ErrQueueAborted is returned to the producer once the consumer gave up.
	ErrQueueAborted = errors.New("relay: queue aborted by consumer")
	// ErrConsumerWrite wraps failures writing drained chunks to the consumer.
	ErrConsumerWrite = errors.New("relay: consumer write failed")
)

// Queue is a bounded chunk queue and a Sink. The pump is the only producer;
// a full queue blocks it, which stops the upstream read until the client
// catches up.
type Queue struct {
	ch        chan []byte
	done      chan struct{}
	abortOnce sync.Once
	err       error
}

// NewQueue creates a queue holding at most capacity chunks.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Queue{
		ch:   make(chan []byte, capacity),
		done: make(chan struct{}),
	}
}

// Write enqueues a copy of chunk, blocking while the queue is full.
func (q *Queue) Write(chunk []byte) error {
	c := make([]byte, len(chunk))
	copy(c, chunk)
	select {
	case q.ch <- c:
		return nil
	case <-q.done:
		return ErrQueueAborted
	}
}

// Close marks the end of the stream. err is reported by Drain once every
// queued chunk has been delivered.
func (q *Queue) Close(err error) error {
	q.err = err
	close(q.ch)
	return nil
}

// Abort releases a producer blocked in Write. Safe to call more than once.
func (q *Queue) Abort() {
	q.abortOnce.Do(func() { close(q.done) })
}

// Drain writes queued chunks to dst in order until the producer closes the
// queue or a write fails. A write failure aborts the queue.
//
// The returned error wraps ErrConsumerWrite when dst failed; otherwise it is
// the producer's close error.
func (q *Queue) Drain(dst io.Writer) (int64, error) {
	var written int64
	for chunk := range q.ch {
		n, err := dst.Write(chunk)
		written += int64(n)
		if err != nil {
			q.Abort()
			return written, fmt.Errorf("%w: %w", ErrConsumerWrite, err)
		}
	}
	return written, q.err
}

// FlushWriter flushes an http.ResponseWriter after every write so each chunk
// reaches the client as soon as it is relayed. Flush failures surface as
// write errors, which is how a disconnected client is noticed.
type FlushWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewFlushWriter wraps w.
func NewFlushWriter(w http.ResponseWriter) *FlushWriter {
	return &FlushWriter{w: w, rc: http.NewResponseController(w)}
}

func (f *FlushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	if err := f.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return n, err
	}
	return n, nil
}
