// ai-req-proxy is a transparent HTTP forwarding proxy that records the
// traffic between a client and an AI chat-completion API.
//
// Every request is relayed to a single upstream without modification.
// Streamed (chunked) responses are relayed chunk by chunk. With capture
// enabled, the raw request, a readable transcript of the chat messages and
// the raw response are written to one directory per day.
//
// Usage:
//
//	# Forward 127.0.0.1:8080 to the upstream, logging only
//	ai-req-proxy 127.0.0.1 8080 https://api.openai.com
//
//	# Also save every exchange under data/req
//	ai-req-proxy -s 127.0.0.1 8080 https://api.openai.com
//
//	# List what was captured on a given day
//	ai-req-proxy captures --date 20250309
//
//	# Delete capture days older than 14 days
//	ai-req-proxy prune --days 14
package main

func main() {
	Execute()
}
