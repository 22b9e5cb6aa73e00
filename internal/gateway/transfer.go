package gateway

import (
	"net/http"
	"strings"
)

// ClassifyHeaders returns Streamed when any Transfer-Encoding value contains
// "chunked" (case-insensitive), Buffered otherwise.
func ClassifyHeaders(h http.Header) TransferMode {
	return classifyCodings(h.Values("Transfer-Encoding"))
}

// ClassifyResponse classifies an upstream response. net/http moves the
// chunked coding from the header map into Response.TransferEncoding, so both
// are inspected.
func ClassifyResponse(resp *http.Response) TransferMode {
	if ClassifyHeaders(resp.Header) == Streamed {
		return Streamed
	}
	return classifyCodings(resp.TransferEncoding)
}

func classifyCodings(values []string) TransferMode {
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), "chunked") {
			return Streamed
		}
	}
	return Buffered
}
