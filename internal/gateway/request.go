// Request utilities - target URL and header translation.
//
// DESIGN:
//   - targetURL():            upstream base with the inbound path and query
//   - outboundHeaders():      inbound headers minus Host and Accept-Encoding
//   - copyResponseHeaders():  upstream headers minus Connection, invalid ones dropped
package gateway

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/http/httpguts"
)

// targetURL replaces the path and query of base with the inbound ones.
// An upstream base path, if any, is kept as a prefix.
func targetURL(base *url.URL, in *url.URL) string {
	u := *base
	u.Path = joinPath(base.Path, in.Path)
	u.RawPath = ""
	if in.RawPath != "" {
		u.RawPath = joinPath(base.EscapedPath(), in.RawPath)
	}
	u.RawQuery = in.RawQuery
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

func joinPath(prefix, path string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return prefix + path
}

// outboundHeaders copies the inbound headers for the upstream request.
// Host is set by the client from the target URL; Accept-Encoding is dropped
// so the upstream answers uncompressed and captured bodies stay readable.
func outboundHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for k, v := range in {
		switch http.CanonicalHeaderKey(k) {
		case "Host", "Accept-Encoding":
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	// An empty User-Agent stops net/http from adding its own.
	if _, ok := out["User-Agent"]; !ok {
		out["User-Agent"] = []string{""}
	}
	return out
}

// copyResponseHeaders copies upstream headers to the client response, except
// Connection. Headers that cannot be written back are dropped with a warning.
func copyResponseHeaders(dst, src http.Header, reqID int64) {
	for k, vv := range src {
		if http.CanonicalHeaderKey(k) == "Connection" {
			continue
		}
		if !httpguts.ValidHeaderFieldName(k) {
			log.Warn().Int64("req_id", reqID).Str("header", k).Msg("dropping response header with invalid name")
			continue
		}
		for _, v := range vv {
			if !httpguts.ValidHeaderFieldValue(v) {
				log.Warn().Int64("req_id", reqID).Str("header", k).Msg("dropping invalid response header value")
				continue
			}
			dst.Add(k, v)
		}
	}
}

// hasBody reports whether the inbound request carries a body to relay.
func hasBody(r *http.Request) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return false
	}
	return r.ContentLength != 0 || len(r.TransferEncoding) > 0
}
