// Package transcript renders chat-completion request bodies as readable text.
//
// DESIGN: Parsing is strict about the chat shape and lenient about content:
//   - the body must be a JSON object with a "messages" array
//   - every message needs a string "role" and a "content" key (any JSON value)
//   - "tool_calls" and "tools" are optional; null counts as absent
//
// Content is kept as a gjson.Result so the renderer can dispatch on its shape
// (string, array, object, other) without a second decode.
package transcript

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	// ErrNotJSON is returned when the body is not a valid JSON document.
	ErrNotJSON = errors.New("transcript: body is not valid JSON")
	// ErrNotChatPayload is returned when the JSON does not have the chat shape.
	ErrNotChatPayload = errors.New("transcript: not a chat payload")
)

// Payload is a parsed chat-completion request.
type Payload struct {
	Messages []Message
	Tools    gjson.Result
}

// HasTools reports whether the request declared a non-null tools value.
func (p *Payload) HasTools() bool {
	return p.Tools.Exists() && p.Tools.Type != gjson.Null
}

// Message is one conversational turn.
type Message struct {
	Role      string
	Content   gjson.Result
	ToolCalls []ToolCall
}

// ToolCall is an assistant's function invocation. Nil fields encode as null.
type ToolCall struct {
	ID       *string   `json:"id"`
	Type     *string   `json:"type"`
	Function *Function `json:"function"`
}

// Function names the invoked function. Arguments is itself encoded JSON.
type Function struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Parse decodes body into a Payload.
func Parse(body []byte) (*Payload, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrNotJSON
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: root is not an object", ErrNotChatPayload)
	}

	messages := root.Get("messages")
	if !messages.IsArray() {
		return nil, fmt.Errorf("%w: missing messages array", ErrNotChatPayload)
	}

	p := &Payload{Tools: root.Get("tools")}
	var parseErr error
	messages.ForEach(func(_, value gjson.Result) bool {
		msg, err := parseMessage(value, len(p.Messages)+1)
		if err != nil {
			parseErr = err
			return false
		}
		p.Messages = append(p.Messages, msg)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return p, nil
}

func parseMessage(v gjson.Result, index int) (Message, error) {
	if !v.IsObject() {
		return Message{}, fmt.Errorf("%w: message %d is not an object", ErrNotChatPayload, index)
	}
	role := v.Get("role")
	if role.Type != gjson.String {
		return Message{}, fmt.Errorf("%w: message %d has no string role", ErrNotChatPayload, index)
	}
	content := v.Get("content")
	if !content.Exists() {
		return Message{}, fmt.Errorf("%w: message %d has no content", ErrNotChatPayload, index)
	}

	msg := Message{Role: role.String(), Content: content}

	calls := v.Get("tool_calls")
	switch {
	case !calls.Exists() || calls.Type == gjson.Null:
	case calls.IsArray():
		for j, c := range calls.Array() {
			tc, err := parseToolCall(c)
			if err != nil {
				return Message{}, fmt.Errorf("%w: message %d tool call %d: %v", ErrNotChatPayload, index, j+1, err)
			}
			msg.ToolCalls = append(msg.ToolCalls, tc)
		}
		if msg.ToolCalls == nil {
			msg.ToolCalls = []ToolCall{}
		}
	default:
		return Message{}, fmt.Errorf("%w: message %d tool_calls is not an array", ErrNotChatPayload, index)
	}
	return msg, nil
}

func parseToolCall(v gjson.Result) (ToolCall, error) {
	if !v.IsObject() {
		return ToolCall{}, errors.New("not an object")
	}
	id, err := optionalString(v.Get("id"), "id")
	if err != nil {
		return ToolCall{}, err
	}
	typ, err := optionalString(v.Get("type"), "type")
	if err != nil {
		return ToolCall{}, err
	}
	tc := ToolCall{ID: id, Type: typ}

	fn := v.Get("function")
	switch {
	case !fn.Exists() || fn.Type == gjson.Null:
	case fn.IsObject():
		name, args := fn.Get("name"), fn.Get("arguments")
		if name.Type != gjson.String {
			return ToolCall{}, errors.New("function name is not a string")
		}
		if args.Type != gjson.String {
			return ToolCall{}, errors.New("function arguments is not a string")
		}
		tc.Function = &Function{Name: name.String(), Arguments: args.String()}
	default:
		return ToolCall{}, errors.New("function is not an object")
	}
	return tc, nil
}

func optionalString(v gjson.Result, field string) (*string, error) {
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	if v.Type != gjson.String {
		return nil, fmt.Errorf("%s is not a string", field)
	}
	s := v.String()
	return &s, nil
}
