// Package relay moves body bytes between the client and the upstream.
//
// DESIGN: A Pump drains a Source into a Sink chunk by chunk:
//   - PipeSink:   request side, feeds the outbound request body through io.Pipe
//   - Queue:      streamed responses, bounded channel drained by the handler
//   - WriterSink: buffered responses, collects the whole body before writing
//
// Each chunk is optionally copied into a Capture before it is forwarded.
// Capture problems are reported through OnCaptureError and never stop the relay.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// DefaultBufferSize is the read size used when a Pump has none configured.
const DefaultBufferSize = 4096

var (
	// ErrSourceRead wraps failures reading from the pump source.
	ErrSourceRead = errors.New("relay: source read failed")
	// ErrSinkWrite wraps failures handing a chunk to the sink.
	ErrSinkWrite = errors.New("relay: sink write failed")
)

// Sink receives relayed chunks in arrival order. Write must not retain chunk
// after returning. Close is called exactly once by the pump: with nil after a
// clean end of stream, or with the error that stopped the relay.
type Sink interface {
	Write(chunk []byte) error
	Close(err error) error
}

// Result summarizes a finished pump run.
type Result struct {
	Bytes  int64
	Chunks int
}

// Pump relays one body from Source to Sink.
type Pump struct {
	Source     io.Reader
	Sink       Sink
	Capture    *Capture
	BufferSize int

	// OnChunk observes every chunk before it is forwarded (logging).
	OnChunk func(chunk []byte)
	// OnCaptureError is called for each capture problem.
	OnCaptureError func(err error)
}

// Run relays until the source ends, the source fails, the sink rejects a
// chunk, or ctx is cancelled.
func (p *Pump) Run(ctx context.Context) (Result, error) {
	size := p.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	buf := make([]byte, size)

	var res Result
	for {
		if err := ctx.Err(); err != nil {
			_ = p.Sink.Close(err)
			return res, err
		}

		n, readErr := p.Source.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if p.OnChunk != nil {
				p.OnChunk(chunk)
			}
			if p.Capture != nil {
				if err := p.Capture.Append(chunk); err != nil && p.OnCaptureError != nil {
					p.OnCaptureError(err)
				}
			}
			if err := p.Sink.Write(chunk); err != nil {
				_ = p.Sink.Close(err)
				return res, fmt.Errorf("%w: %w", ErrSinkWrite, err)
			}
			res.Bytes += int64(n)
			res.Chunks++
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return res, p.Sink.Close(nil)
			}
			_ = p.Sink.Close(readErr)
			return res, fmt.Errorf("%w: %w", ErrSourceRead, readErr)
		}
	}
}

// =============================================================================
// SINKS
// =============================================================================

// PipeSink feeds an io.Pipe so the pumped bytes can serve as a request body.
type PipeSink struct {
	w *io.PipeWriter
}

// NewPipe returns the reader end to hand to the consumer and the sink end for
// the pump. Writes block until the consumer reads.
func NewPipe() (*io.PipeReader, *PipeSink) {
	r, w := io.Pipe()
	return r, &PipeSink{w: w}
}

func (s *PipeSink) Write(chunk []byte) error {
	_, err := s.w.Write(chunk)
	return err
}

func (s *PipeSink) Close(err error) error {
	if err != nil {
		return s.w.CloseWithError(err)
	}
	return s.w.Close()
}

// WriterSink forwards chunks to an io.Writer and ignores Close.
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) Write(chunk []byte) error {
	_, err := s.W.Write(chunk)
	return err
}

func (s WriterSink) Close(error) error { return nil }
