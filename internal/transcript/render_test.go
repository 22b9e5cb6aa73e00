package transcript

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderBytes_SingleUserMessage(t *testing.T) {
	text, ok := RenderBytes([]byte(`{"messages":[{"role":"user","content":"hi"}]}`))
	require.True(t, ok)
	assert.Equal(t, "=== Message 1 (user) ===\nhi\n\n", text)
}

func TestRenderBytes_AssistantToolCalls(t *testing.T) {
	body := `{"messages":[
		{"role":"user","content":"find x"},
		{"role":"assistant","content":"looking","tool_calls":[{"id":"1","type":"function","function":{"name":"lookup","arguments":"{\"q\":\"x\"}"}}]}
	]}`

	text, ok := RenderBytes([]byte(body))
	require.True(t, ok)

	want := "=== Message 1 (user) ===\nfind x\n\n" +
		"=== Message 2 (assistant) ===\nlooking" +
		"\n\n=======\n\n" +
		"[\n" +
		"  {\n" +
		"    \"id\": \"1\",\n" +
		"    \"type\": \"function\",\n" +
		"    \"function\": {\n" +
		"      \"name\": \"lookup\",\n" +
		"      \"arguments\": \"{\\\"q\\\":\\\"x\\\"}\"\n" +
		"    }\n" +
		"  }\n" +
		"]\n\n"
	assert.Equal(t, want, text)
}

func TestRenderBytes_ToolCallsOnlyForAssistant(t *testing.T) {
	body := `{"messages":[{"role":"user","content":"x","tool_calls":[{"id":"1"}]}]}`
	text, ok := RenderBytes([]byte(body))
	require.True(t, ok)
	assert.NotContains(t, text, "=======")
}

func TestRenderBytes_EmptyToolCallsHaveNoSeparator(t *testing.T) {
	body := `{"messages":[{"role":"assistant","content":"done","tool_calls":[]}]}`
	text, ok := RenderBytes([]byte(body))
	require.True(t, ok)
	assert.Equal(t, "=== Message 1 (assistant) ===\ndone\n\n", text)
}

func TestRenderBytes_MissingToolCallFieldsEncodeAsNull(t *testing.T) {
	body := `{"messages":[{"role":"assistant","content":null,"tool_calls":[{"function":{"name":"f","arguments":""}}]}]}`
	text, ok := RenderBytes([]byte(body))
	require.True(t, ok)
	assert.Contains(t, text, "=== Message 1 (assistant) ===\nnull\n\n=======\n\n")
	assert.Contains(t, text, "\"id\": null,\n    \"type\": null,")
}

func TestRenderBytes_ToolsSection(t *testing.T) {
	body := `{"tools":[{"type":"function","function":{"name":"lookup"}}],"messages":[{"role":"user","content":"q"}]}`
	text, ok := RenderBytes([]byte(body))
	require.True(t, ok)

	want := "=== TOOLS ===\n" +
		"[\n" +
		"  {\n" +
		"    \"type\": \"function\",\n" +
		"    \"function\": {\n" +
		"      \"name\": \"lookup\"\n" +
		"    }\n" +
		"  }\n" +
		"]\n\n" +
		"=== Message 1 (user) ===\nq\n\n"
	assert.Equal(t, want, text)
}

func TestRenderBytes_NullToolsIsAbsent(t *testing.T) {
	text, ok := RenderBytes([]byte(`{"tools":null,"messages":[]}`))
	require.True(t, ok)
	assert.Empty(t, text)
}

func TestRenderContent(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{
			name:    "array of text parts",
			message: `{"role":"user","content":[{"type":"text","text":"first"},{"type":"text","text":"second"}]}`,
			want:    "\n--- item 1 text ---\n\nfirst\n--- item 2 text ---\n\nsecond",
		},
		{
			name:    "array with plain string",
			message: `{"role":"user","content":["plain"]}`,
			want:    "\n--- item 1 text ---\n\nplain",
		},
		{
			name:    "array object without text",
			message: `{"role":"user","content":[{"type":"image_url","image_url":{"url":"u"}}]}`,
			want:    "\n--- item 1 text ---\n\n{\n  \"type\": \"image_url\",\n  \"image_url\": {\n    \"url\": \"u\"\n  }\n}",
		},
		{
			name:    "array with number",
			message: `{"role":"user","content":[7]}`,
			want:    "\n--- item 1 text ---\n\n7",
		},
		{
			name:    "array text field that is not a string",
			message: `{"role":"user","content":[{"text":{"value":1}}]}`,
			want:    "\n--- item 1 text ---\n\n{\"value\":1}",
		},
		{
			name:    "object with text",
			message: `{"role":"user","content":{"type":"text","text":"solo"}}`,
			want:    "solo",
		},
		{
			name:    "object without text",
			message: `{"role":"user","content":{"a":1}}`,
			want:    "{\n  \"a\": 1\n}",
		},
		{
			name:    "tool string holding JSON",
			message: `{"role":"tool","content":"{\"temp\":21}"}`,
			want:    "{\n  \"temp\": 21\n}",
		},
		{
			name:    "tool string not JSON",
			message: `{"role":"tool","content":"sunny"}`,
			want:    "sunny",
		},
		{
			name:    "user string holding JSON stays verbatim",
			message: `{"role":"user","content":"{\"temp\":21}"}`,
			want:    `{"temp":21}`,
		},
		{
			name:    "number",
			message: `{"role":"user","content":42}`,
			want:    "42",
		},
		{
			name:    "boolean",
			message: `{"role":"user","content":true}`,
			want:    "true",
		},
		{
			name:    "null",
			message: `{"role":"assistant","content":null}`,
			want:    "null",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse([]byte(`{"messages":[` + tt.message + `]}`))
			require.NoError(t, err)
			require.Len(t, p.Messages, 1)
			m := p.Messages[0]
			assert.Equal(t, tt.want, renderContent(m.Content, m.Role))
		})
	}
}

func TestRender_Deterministic(t *testing.T) {
	body := []byte(`{"tools":[{"b":1,"a":2}],"messages":[{"role":"user","content":[{"text":"x"},"y",{"z":{"k":[1,2]}}]},{"role":"tool","content":"{\"b\":1,\"a\":2}"}]}`)
	first, ok := RenderBytes(body)
	require.True(t, ok)
	for i := 0; i < 10; i++ {
		again, ok := RenderBytes(body)
		require.True(t, ok)
		assert.Equal(t, first, again)
	}
}

func TestRender_PreservesKeyOrderAndDoesNotEscapeHTML(t *testing.T) {
	body := `{"messages":[{"role":"tool","content":"{\"zeta\":\"<b>\",\"alpha\":\"&\"}"}]}`
	text, ok := RenderBytes([]byte(body))
	require.True(t, ok)
	assert.Equal(t, "=== Message 1 (tool) ===\n{\n  \"zeta\": \"<b>\",\n  \"alpha\": \"&\"\n}\n\n", text)
	assert.Less(t, strings.Index(text, "zeta"), strings.Index(text, "alpha"))
}

func TestRenderBytes_NotApplicable(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ``},
		{"not json", `hello world`},
		{"truncated json", `{"messages":[{"role":"user"`},
		{"array root", `[{"role":"user","content":"hi"}]`},
		{"no messages", `{"prompt":"hi"}`},
		{"messages not array", `{"messages":"hi"}`},
		{"message not object", `{"messages":["hi"]}`},
		{"role missing", `{"messages":[{"content":"hi"}]}`},
		{"role not string", `{"messages":[{"role":1,"content":"hi"}]}`},
		{"content missing", `{"messages":[{"role":"user"}]}`},
		{"tool_calls not array", `{"messages":[{"role":"assistant","content":"","tool_calls":{}}]}`},
		{"tool call not object", `{"messages":[{"role":"assistant","content":"","tool_calls":["x"]}]}`},
		{"tool call id not string", `{"messages":[{"role":"assistant","content":"","tool_calls":[{"id":5}]}]}`},
		{"function name missing", `{"messages":[{"role":"assistant","content":"","tool_calls":[{"function":{"arguments":"{}"}}]}]}`},
		{"function arguments object", `{"messages":[{"role":"assistant","content":"","tool_calls":[{"function":{"name":"f","arguments":{}}}]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, ok := RenderBytes([]byte(tt.body))
			assert.False(t, ok)
			assert.Empty(t, text)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte(`nope`))
	assert.ErrorIs(t, err, ErrNotJSON)

	_, err = Parse([]byte(`{"messages":[{"role":"user"}]}`))
	assert.ErrorIs(t, err, ErrNotChatPayload)
	assert.Contains(t, err.Error(), "message 1")
}

func TestParse_ToolCalls(t *testing.T) {
	p, err := Parse([]byte(`{"messages":[{"role":"assistant","content":"","tool_calls":[{"id":"c1","type":null,"function":{"name":"f","arguments":"{}"}}]}]}`))
	require.NoError(t, err)
	require.Len(t, p.Messages[0].ToolCalls, 1)

	tc := p.Messages[0].ToolCalls[0]
	require.NotNil(t, tc.ID)
	assert.Equal(t, "c1", *tc.ID)
	assert.Nil(t, tc.Type)
	require.NotNil(t, tc.Function)
	assert.Equal(t, "f", tc.Function.Name)
	assert.Equal(t, "{}", tc.Function.Arguments)
	assert.False(t, p.HasTools())
}
