package transcript

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/heqingpan/ai-req-proxy/internal/utils"
)

// =============================================================================
// SECTION MARKERS
// =============================================================================

const (
	toolsHeader     = "=== TOOLS ===\n"
	messageHeader   = "=== Message %d (%s) ===\n"
	itemHeader      = "\n--- item %d text ---\n\n"
	toolCallsMarker = "\n\n=======\n\n"
	sectionEnd      = "\n\n"
)

// RenderBytes parses body and renders it. ok is false when body is not a
// chat payload, in which case no transcript should be written.
func RenderBytes(body []byte) (text string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("transcript: render panicked")
			text, ok = "", false
		}
	}()

	p, err := Parse(body)
	if err != nil {
		log.Debug().Err(err).Msg("transcript: not applicable")
		return "", false
	}
	return Render(p), true
}

// Render produces the transcript text. Output depends only on p.
func Render(p *Payload) string {
	var b strings.Builder

	if p.HasTools() {
		b.WriteString(toolsHeader)
		b.WriteString(prettyRaw(p.Tools))
		b.WriteString(sectionEnd)
	}

	for i, m := range p.Messages {
		fmt.Fprintf(&b, messageHeader, i+1, m.Role)
		b.WriteString(renderContent(m.Content, m.Role))

		if m.Role == "assistant" && len(m.ToolCalls) > 0 {
			b.WriteString(toolCallsMarker)
			b.WriteString(prettyToolCalls(m.ToolCalls))
		}
		b.WriteString(sectionEnd)
	}
	return b.String()
}

// renderContent dispatches on the content shape. The order of the checks
// matters: each branch covers a payload shape seen from real clients.
func renderContent(content gjson.Result, role string) string {
	switch {
	case content.IsArray():
		var b strings.Builder
		for i, item := range content.Array() {
			fmt.Fprintf(&b, itemHeader, i+1)
			switch {
			case item.IsObject():
				if text := item.Get("text"); text.Exists() {
					b.WriteString(textValue(text))
				} else {
					b.WriteString(prettyRaw(item))
				}
			case item.Type == gjson.String:
				b.WriteString(item.String())
			default:
				b.WriteString(prettyRaw(item))
			}
		}
		return b.String()

	case content.IsObject():
		if text := content.Get("text"); text.Exists() {
			return textValue(text)
		}
		return prettyRaw(content)

	case content.Type == gjson.String:
		s := content.String()
		if role == "tool" && gjson.Valid(s) {
			return prettyRaw(gjson.Parse(s))
		}
		return s

	default:
		return content.Raw
	}
}

// textValue returns strings unquoted and anything else as its JSON text.
func textValue(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.String()
	}
	return v.Raw
}

func prettyRaw(v gjson.Result) string {
	out, err := utils.IndentRaw([]byte(v.Raw))
	if err != nil {
		return v.Raw
	}
	return string(out)
}

func prettyToolCalls(calls []ToolCall) string {
	out, err := utils.MarshalIndentNoEscape(calls)
	if err != nil {
		return fmt.Sprintf("%v", calls)
	}
	return string(out)
}
