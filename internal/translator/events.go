package translator

import "encoding/json"

// nativeEvent is one parsed NDJSON line from the agent CLI's stream-json
// output, or an inner event unwrapped from a stream_event wrapper.
type nativeEvent struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// stream_event wrapper payload
	Event json.RawMessage `json:"event,omitempty"`

	// content_block_* fields
	Index        *int            `json:"index,omitempty"`
	ContentBlock json.RawMessage `json:"content_block,omitempty"`
	Delta        json.RawMessage `json:"delta,omitempty"`

	// consolidated message events
	Message json.RawMessage `json:"message,omitempty"`

	// top-level tool events
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`

	// result (turn completion) fields
	Result            string         `json:"result,omitempty"`
	IsError           bool           `json:"is_error,omitempty"`
	PermissionDenials []nativeDenial `json:"permission_denials,omitempty"`

	// system init fields
	Model   string `json:"model,omitempty"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// nativeDenial is one auto-denied tool call reported on a result event.
type nativeDenial struct {
	ToolUseID string          `json:"tool_use_id"`
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
}

// nativeContentBlock is a content block inside a consolidated message or a
// content_block_start payload.
type nativeContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// nativeMessage is the message field of a consolidated assistant/user event.
type nativeMessage struct {
	Role       string               `json:"role,omitempty"`
	Content    []nativeContentBlock `json:"content"`
	StopReason string               `json:"stop_reason,omitempty"`
}

// nativeDelta is the delta field of a content_block_delta event.
type nativeDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}
