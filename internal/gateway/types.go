// Package gateway types - types for the forwarding proxy.
//
// DESIGN: Types used by the gateway for:
//   - Per-request identity (RequestContext)
//   - Transfer mode classification (TransferMode)
//
// Types are defined here to avoid circular imports and provide clear contracts.
package gateway

import (
	"net/http"
	"time"

	"github.com/heqingpan/ai-req-proxy/internal/capture"
)

// =============================================================================
// REQUEST CONTEXT - Identity of one exchange
// =============================================================================

// RequestContext identifies one inbound request. Created once when the request
// arrives and never modified afterwards.
type RequestContext struct {
	ID         int64
	ReceivedAt time.Time
	Method     string
	TargetURL  string
	Header     http.Header
}

// Date returns the capture day (YYYYMMDD, local time).
func (rc *RequestContext) Date() string {
	return rc.ReceivedAt.Local().Format(capture.DateLayout)
}

// Time returns the arrival time of day (HHMMSS, local time).
func (rc *RequestContext) Time() string {
	return rc.ReceivedAt.Local().Format(capture.TimeLayout)
}

// Record returns the capture identity of the exchange.
func (rc *RequestContext) Record() capture.Record {
	return capture.Record{
		ID:         rc.ID,
		ReceivedAt: rc.ReceivedAt,
		Method:     rc.Method,
		URL:        rc.TargetURL,
	}
}

// =============================================================================
// TRANSFER MODE
// =============================================================================

// TransferMode decides how a response body is moved to the client.
type TransferMode int

const (
	// Buffered responses are read whole, then written.
	Buffered TransferMode = iota
	// Streamed responses are relayed chunk by chunk with a flush after each.
	Streamed
)

func (m TransferMode) String() string {
	if m == Streamed {
		return "streamed"
	}
	return "buffered"
}
