// HTTP request handling for the forwarding proxy.
//
// DESIGN: Main request flow:
//   - handleProxy():    entry point for every inbound request
//   - pumpRequest():    streams the inbound body upstream, capturing a copy
//   - relayStreamed():  chunked responses, bounded queue with a flush per chunk
//   - relayBuffered():  everything else, read whole then written once
//
// Also includes chunk logging and the telemetry helpers.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heqingpan/ai-req-proxy/internal/capture"
	"github.com/heqingpan/ai-req-proxy/internal/monitoring"
	"github.com/heqingpan/ai-req-proxy/internal/relay"
	"github.com/heqingpan/ai-req-proxy/internal/utils"
)

// errRequestAbandoned closes the outbound body pipe when the exchange ended
// before the upstream consumed the whole request.
var errRequestAbandoned = errors.New("request body abandoned")

// exchange accumulates what is known about one request while it is relayed.
// Fields written by the request pump are read only after the pump finished.
type exchange struct {
	rc       *RequestContext
	path     string
	clientIP string

	status          int
	mode            TransferMode
	hasMode         bool
	requestBytes    int64
	responseBytes   int64
	responseChunks  int
	captured        bool
	truncated       bool
	upstreamLatency time.Duration
	err             error
}

// handleProxy relays one request to the upstream and the response back.
func (g *Gateway) handleProxy(w http.ResponseWriter, r *http.Request) {
	g.metrics.RequestStarted()
	rc := &RequestContext{
		ID:         g.ids.Next(),
		ReceivedAt: time.Now(),
		Method:     r.Method,
		TargetURL:  targetURL(g.upstream, r.URL),
		Header:     r.Header,
	}
	ex := &exchange{rc: rc, path: r.URL.Path, clientIP: clientIP(r)}
	defer g.finish(ex)

	log.Info().
		Int64("req_id", rc.ID).
		Str("method", rc.Method).
		Str("url", rc.TargetURL).
		Msg("request")
	log.Info().Int64("req_id", rc.ID).Msg("request headers:\n" + utils.HeaderLines(r.Header))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outReq, err := http.NewRequestWithContext(ctx, r.Method, rc.TargetURL, nil)
	if err != nil {
		ex.err = fmt.Errorf("%w: %w", ErrUpstreamUnreachable, err)
		ex.status = http.StatusBadGateway
		log.Error().Err(err).Int64("req_id", rc.ID).Msg("failed to build upstream request")
		writeError(w, upstreamErrorMessage, http.StatusBadGateway)
		return
	}
	outReq.Header = outboundHeaders(r.Header)

	if hasBody(r) {
		// The request body may still be arriving when response headers are
		// flushed; net/http must not drain it behind the pump's back.
		_ = http.NewResponseController(w).EnableFullDuplex()
		pr, sink := relay.NewPipe()
		outReq.Body = pr
		outReq.ContentLength = r.ContentLength
		done := make(chan struct{})
		go g.pumpRequest(ctx, r, ex, sink, done)
		defer g.releaseRequestPump(w, pr, done)
	} else {
		outReq.Body = http.NoBody
		outReq.ContentLength = 0
	}

	upstreamStart := time.Now()
	resp, err := g.client.Do(outReq)
	ex.upstreamLatency = time.Since(upstreamStart)
	if err != nil {
		if r.Context().Err() != nil {
			ex.err = fmt.Errorf("%w: %w", ErrClientDisconnected, err)
			log.Debug().Err(err).Int64("req_id", rc.ID).Msg("client went away before the upstream answered")
			return
		}
		ex.err = fmt.Errorf("%w: %w", ErrUpstreamUnreachable, err)
		ex.status = http.StatusBadGateway
		log.Error().Err(err).Int64("req_id", rc.ID).Str("url", rc.TargetURL).Msg("upstream request failed")
		writeError(w, upstreamErrorMessage, http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	g.metrics.RecordUpstreamLatency(r.Method, ex.upstreamLatency)

	mode := ClassifyResponse(resp)
	ex.status, ex.mode, ex.hasMode = resp.StatusCode, mode, true
	log.Info().
		Int64("req_id", rc.ID).
		Int("status", resp.StatusCode).
		Str("mode", mode.String()).
		Msg("upstream response")
	log.Info().Int64("req_id", rc.ID).Msg("response headers:\n" + utils.HeaderLines(resp.Header))

	if mode == Streamed {
		g.relayStreamed(ctx, cancel, w, r, resp, ex)
		return
	}
	g.relayBuffered(ctx, w, r, resp, ex)
}

// =============================================================================
// REQUEST BODY
// =============================================================================

// pumpRequest feeds the inbound body into the outbound request. The capture
// is persisted only when the body was read to a clean end.
func (g *Gateway) pumpRequest(ctx context.Context, r *http.Request, ex *exchange, sink *relay.PipeSink, done chan<- struct{}) {
	defer close(done)
	rc := ex.rc

	capt := g.newCapture()
	p := &relay.Pump{
		Source:         r.Body,
		Sink:           sink,
		Capture:        capt,
		BufferSize:     g.config.Relay.BufferSize,
		OnChunk:        g.chunkLogger(rc.ID, "request"),
		OnCaptureError: g.captureErrorLogger(rc.ID, capture.KindRequest),
	}
	res, err := p.Run(ctx)
	ex.requestBytes = res.Bytes
	g.metrics.RecordBytes(monitoring.DirectionRequest, res.Bytes)
	if err != nil {
		log.Debug().Err(err).Int64("req_id", rc.ID).Msg("request body relay stopped, capture discarded")
		return
	}
	if capt.Usable() {
		_ = g.persistor.StoreRequest(rc.Record(), capt.Bytes(), capt.Truncated())
	}
}

// releaseRequestPump waits for the request pump. A pump still running once the
// response is over is unblocked: its pipe is closed and the pending client
// read is expired.
func (g *Gateway) releaseRequestPump(w http.ResponseWriter, pr *io.PipeReader, done <-chan struct{}) {
	select {
	case <-done:
		return
	default:
	}
	_ = pr.CloseWithError(errRequestAbandoned)
	_ = http.NewResponseController(w).SetReadDeadline(time.Now())
	<-done
}

// =============================================================================
// RESPONSE BODY
// =============================================================================

// relayStreamed relays a chunked response. Headers go out immediately; every
// chunk is flushed as soon as the upstream produced it.
func (g *Gateway) relayStreamed(ctx context.Context, cancel context.CancelFunc, w http.ResponseWriter, r *http.Request, resp *http.Response, ex *exchange) {
	rc := ex.rc
	copyResponseHeaders(w.Header(), resp.Header, rc.ID)
	w.WriteHeader(resp.StatusCode)

	queue := relay.NewQueue(g.config.Relay.StreamQueueSize)
	capt := g.newCapture()
	p := &relay.Pump{
		Source:         resp.Body,
		Sink:           queue,
		Capture:        capt,
		BufferSize:     g.config.Relay.BufferSize,
		OnChunk:        g.chunkLogger(rc.ID, "response"),
		OnCaptureError: g.captureErrorLogger(rc.ID, capture.KindResponse),
	}

	type pumpResult struct {
		res relay.Result
		err error
	}
	pumped := make(chan pumpResult, 1)
	go func() {
		res, err := p.Run(ctx)
		pumped <- pumpResult{res: res, err: err}
	}()

	_, drainErr := queue.Drain(relay.NewFlushWriter(w))
	if errors.Is(drainErr, relay.ErrConsumerWrite) {
		// Stop the upstream read the pump may be blocked in.
		cancel()
	}
	result := <-pumped

	ex.responseBytes = result.res.Bytes
	ex.responseChunks = result.res.Chunks
	g.metrics.RecordBytes(monitoring.DirectionResponse, result.res.Bytes)
	g.storeResponse(ex, capt)

	switch {
	case errors.Is(drainErr, relay.ErrConsumerWrite) || r.Context().Err() != nil:
		ex.err = fmt.Errorf("%w: %w", ErrClientDisconnected, drainErr)
		log.Debug().Err(drainErr).Int64("req_id", rc.ID).Msg("client disconnected during stream")
	case result.err != nil:
		ex.err = fmt.Errorf("%w: %w", ErrUpstreamBody, result.err)
		log.Warn().Err(result.err).Int64("req_id", rc.ID).Msg("upstream stream ended with error")
		// Abort the connection so the client cannot mistake the partial
		// stream for a complete one.
		panic(http.ErrAbortHandler)
	default:
		log.Debug().
			Int64("req_id", rc.ID).
			Int64("bytes", result.res.Bytes).
			Int("chunks", result.res.Chunks).
			Msg("stream complete")
	}
}

// relayBuffered reads the whole upstream body before writing anything, so a
// failed read can still be answered with a 502.
func (g *Gateway) relayBuffered(ctx context.Context, w http.ResponseWriter, r *http.Request, resp *http.Response, ex *exchange) {
	rc := ex.rc
	var body bytes.Buffer
	p := &relay.Pump{
		Source:     resp.Body,
		Sink:       relay.WriterSink{W: &body},
		BufferSize: g.config.Relay.BufferSize,
		OnChunk:    g.chunkLogger(rc.ID, "response"),
	}
	res, err := p.Run(ctx)
	ex.responseBytes = res.Bytes
	ex.responseChunks = res.Chunks
	if err != nil {
		if r.Context().Err() != nil {
			ex.err = fmt.Errorf("%w: %w", ErrClientDisconnected, err)
			log.Debug().Err(err).Int64("req_id", rc.ID).Msg("client went away while reading the response")
			return
		}
		ex.err = fmt.Errorf("%w: %w", ErrUpstreamUnreachable, err)
		ex.status = http.StatusBadGateway
		log.Error().Err(err).Int64("req_id", rc.ID).Msg("failed to read upstream response")
		writeError(w, upstreamErrorMessage, http.StatusBadGateway)
		return
	}

	copyResponseHeaders(w.Header(), resp.Header, rc.ID)
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(body.Bytes()); err != nil {
		ex.err = fmt.Errorf("%w: %w", ErrClientDisconnected, err)
		log.Debug().Err(err).Int64("req_id", rc.ID).Msg("client disconnected while writing the response")
	}
	g.metrics.RecordBytes(monitoring.DirectionResponse, res.Bytes)

	if g.persistor != nil && body.Len() > 0 {
		data, truncated := body.Bytes(), false
		if limit := g.config.Capture.MaxBodyBytes; limit > 0 && int64(len(data)) > limit {
			data, truncated = data[:limit], true
		}
		ex.captured, ex.truncated = true, truncated
		_ = g.persistor.StoreResponse(rc.Record(), data, ex.status, ex.mode.String(), truncated)
	}
}

// storeResponse hands a non-empty response capture to the persistor, even
// when the stream ended early.
func (g *Gateway) storeResponse(ex *exchange, capt *relay.Capture) {
	if !capt.Usable() {
		return
	}
	ex.captured, ex.truncated = true, capt.Truncated()
	_ = g.persistor.StoreResponse(ex.rc.Record(), capt.Bytes(), ex.status, ex.mode.String(), capt.Truncated())
}

// newCapture returns a capture buffer, or nil when capture is off.
func (g *Gateway) newCapture() *relay.Capture {
	if g.persistor == nil {
		return nil
	}
	return relay.NewCapture(g.config.Capture.MaxBodyBytes)
}

// =============================================================================
// LOGGING HELPERS
// =============================================================================

// chunkLogger returns a per-chunk info logger, nil when body logging is off.
func (g *Gateway) chunkLogger(reqID int64, direction string) func([]byte) {
	if !g.config.Monitoring.LogBodies {
		return nil
	}
	maxLen := g.config.Monitoring.MaxBodyLogLen
	return func(chunk []byte) {
		e := log.Info()
		if !e.Enabled() {
			return
		}
		text := string(chunk)
		if maxLen > 0 {
			text = utils.Truncate(text, maxLen)
		}
		e.Int64("req_id", reqID).Int("bytes", len(chunk)).Msg(direction + " chunk:\n\t" + text)
	}
}

func (g *Gateway) captureErrorLogger(reqID int64, kind capture.Kind) func(error) {
	return func(err error) {
		log.Warn().Err(err).Int64("req_id", reqID).Str("kind", string(kind)).Msg("capture incomplete")
	}
}

// =============================================================================
// TELEMETRY HELPERS
// =============================================================================

// finish records metrics and the telemetry event of a completed exchange.
func (g *Gateway) finish(ex *exchange) {
	outcome := outcomeOf(ex.err)
	mode := ""
	if ex.hasMode {
		mode = ex.mode.String()
	}
	g.metrics.RecordRequest(ex.rc.Method, mode, outcome)

	event := &monitoring.ExchangeEvent{
		RunID:             g.runID,
		RequestID:         ex.rc.ID,
		Timestamp:         ex.rc.ReceivedAt,
		Method:            ex.rc.Method,
		Path:              ex.path,
		TargetURL:         ex.rc.TargetURL,
		ClientIP:          ex.clientIP,
		StatusCode:        ex.status,
		Mode:              mode,
		RequestBodySize:   ex.requestBytes,
		ResponseBodySize:  ex.responseBytes,
		ResponseChunks:    ex.responseChunks,
		Outcome:           outcome,
		Captured:          ex.captured,
		CaptureTruncated:  ex.truncated,
		UpstreamLatencyMs: ex.upstreamLatency.Milliseconds(),
		TotalLatencyMs:    time.Since(ex.rc.ReceivedAt).Milliseconds(),
	}
	if ex.err != nil {
		event.Error = ex.err.Error()
	}
	g.tracker.RecordExchange(event)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
