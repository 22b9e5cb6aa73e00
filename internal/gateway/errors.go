package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/sjson"

	"github.com/heqingpan/ai-req-proxy/internal/monitoring"
)

var (
	// ErrUpstreamUnreachable means the upstream could not be reached or failed
	// before any response byte was sent to the client.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	// ErrClientDisconnected means the client went away mid-relay.
	ErrClientDisconnected = errors.New("client disconnected")
	// ErrUpstreamBody means the upstream failed after the response started.
	ErrUpstreamBody = errors.New("upstream body read failed")
)

// Message and type of the JSON body returned for upstream failures.
const (
	upstreamErrorMessage = "upstream request failed"
	proxyErrorType       = "proxy_error"
)

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, msg string, status int) {
	body, err := sjson.SetBytes([]byte(`{}`), "error.message", msg)
	if err == nil {
		body, err = sjson.SetBytes(body, "error.type", proxyErrorType)
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to build error body")
		body = []byte(`{"error":{"message":"internal error","type":"proxy_error"}}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// outcomeOf maps a relay error to its metrics/telemetry outcome.
func outcomeOf(err error) monitoring.Outcome {
	switch {
	case err == nil:
		return monitoring.OutcomeOK
	case errors.Is(err, ErrClientDisconnected), errors.Is(err, context.Canceled):
		return monitoring.OutcomeClientDisconnected
	case errors.Is(err, ErrUpstreamUnreachable):
		return monitoring.OutcomeUpstreamError
	default:
		return monitoring.OutcomeRelayError
	}
}
