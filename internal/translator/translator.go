// Package translator converts native agent-CLI stream events into normalized
// content blocks. One Translator instance carries the per-conversation
// streaming state: the positional-index-to-block-id mapping and the replay
// flag for resumed sessions.
package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentdeck/agentdeck/internal/domain/conversation"
)

// maxUnwrapDepth bounds stream_event unwrapping so malformed nested events
// cannot recurse forever.
const maxUnwrapDepth = 8

// questionToolName is the protocol-reserved tool name for asking the user a
// structured question instead of performing an action.
const questionToolName = "AskUserQuestion"

// Denial is a captured permission denial awaiting a human decision.
type Denial struct {
	ToolUseID string
	ToolName  string
	ToolInput json.RawMessage
	Prompt    string
}

// Result is the outcome of translating one native event.
type Result struct {
	// Blocks are delivered to subscribers and persisted.
	Blocks []*conversation.ContentBlock
	// LiveOnly blocks are delivered but not persisted (replay phase).
	LiveOnly []*conversation.ContentBlock
	// RecordOnly blocks are persisted but not delivered (consolidated copies
	// of content that already streamed as deltas).
	RecordOnly []*conversation.ContentBlock
	// SessionID is the resumption token found on the event, if any.
	SessionID string
	// Denials are the auto-denied tool calls from a turn-completion event.
	Denials []Denial
	// TurnComplete is set when a result event was seen. When Denials is
	// non-empty the terminal session-end block is withheld by the caller.
	TurnComplete bool
}

// Translator holds per-conversation streaming state.
type Translator struct {
	conversationID string

	// blockIndex maps the native protocol's positional block index to the
	// stable block id handed to consumers. Deltas reference blocks only by
	// position.
	blockIndex map[int]string
	blockTypes map[int]conversation.BlockType

	replay bool
}

// New creates a translator for one conversation. replay marks the interval
// after re-attach during which the subprocess re-emits prior turns.
func New(conversationID string, replay bool) *Translator {
	return &Translator{
		conversationID: conversationID,
		blockIndex:     make(map[int]string),
		blockTypes:     make(map[int]conversation.BlockType),
		replay:         replay,
	}
}

// InReplay reports whether replay-phase suppression is active.
func (t *Translator) InReplay() bool {
	return t.replay
}

// EndReplay disables replay-phase suppression. Called when a fresh user
// message proves the subprocess has caught up.
func (t *Translator) EndReplay() {
	t.replay = false
}

// StartReplay enables replay-phase suppression and clears streaming state.
// Called whenever a subprocess is spawned with a resumption token: it will
// re-emit prior turns before accepting fresh input.
func (t *Translator) StartReplay() {
	t.replay = true
	t.resetIndexes()
}

// Translate converts one stdout line into zero or more content blocks. It
// never fails: unparseable lines become text blocks and unknown event shapes
// become raw blocks.
func (t *Translator) Translate(line []byte) Result {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return Result{}
	}

	var ev nativeEvent
	if err := json.Unmarshal([]byte(trimmed), &ev); err != nil || ev.Type == "" {
		return t.fallback(trimmed)
	}

	// Unwrap stream_event wrappers with a bounded loop
	for depth := 0; ev.Type == "stream_event" && len(ev.Event) > 0; depth++ {
		if depth >= maxUnwrapDepth {
			log.Warn().
				Str("conversation_id", t.conversationID).
				Msg("stream_event nesting exceeded unwrap limit, dropping event")
			return Result{}
		}
		outerSID := ev.SessionID
		var inner nativeEvent
		if err := json.Unmarshal(ev.Event, &inner); err != nil || inner.Type == "" {
			return t.passthroughRaw(trimmed)
		}
		if inner.SessionID == "" {
			inner.SessionID = outerSID
		}
		ev = inner
	}

	res := t.dispatch(&ev, trimmed)
	res.SessionID = ev.SessionID
	return res
}

func (t *Translator) dispatch(ev *nativeEvent, raw string) Result {
	switch ev.Type {
	case "content_block_start":
		return t.onBlockStart(ev)
	case "content_block_delta":
		return t.onBlockDelta(ev)
	case "content_block_stop", "message_delta", "ping":
		// Pure signals
		return Result{}
	case "message_start":
		return Result{}
	case "message_stop":
		// The streamed message is complete; positional indexes reset.
		t.resetIndexes()
		return Result{}
	case "assistant":
		return t.onConsolidated(ev, "assistant")
	case "user", "human":
		return t.onConsolidated(ev, "user")
	case "tool_use":
		return t.onToolUse(ev)
	case "tool_result":
		return t.onToolResult(ev)
	case "system":
		return t.onSystem(ev)
	case "error":
		return t.onError(ev)
	case "input_request", "permission_request":
		return t.onInputRequest(ev, raw)
	case "result":
		return t.onResult(ev)
	default:
		return t.unknown(raw)
	}
}

// onBlockStart mints (or reuses) the stable id for a positional index. Text
// and thinking starts emit nothing: the first delta carries content. Tool-use
// starts emit a partial block so subscribers see the call early.
func (t *Translator) onBlockStart(ev *nativeEvent) Result {
	if ev.Index == nil || len(ev.ContentBlock) == 0 {
		return Result{}
	}
	var cb nativeContentBlock
	if err := json.Unmarshal(ev.ContentBlock, &cb); err != nil {
		return Result{}
	}

	idx := *ev.Index
	blockType := nativeBlockType(cb.Type)
	id, ok := t.blockIndex[idx]
	if !ok {
		if cb.Type == "tool_use" && cb.ID != "" {
			id = cb.ID
		} else {
			id = uuid.New().String()
		}
		t.blockIndex[idx] = id
		t.blockTypes[idx] = blockType
	}

	if cb.Type != "tool_use" {
		return Result{}
	}

	block := conversation.NewBlock(t.conversationID, conversation.BlockToolUse)
	block.ID = id
	block.Role = "assistant"
	block.ToolID = cb.ID
	block.ToolName = cb.Name
	block.IsPartial = true
	return Result{Blocks: []*conversation.ContentBlock{block}}
}

// onBlockDelta emits a partial block carrying only the incremental payload.
func (t *Translator) onBlockDelta(ev *nativeEvent) Result {
	if ev.Index == nil || len(ev.Delta) == 0 {
		return Result{}
	}
	var d nativeDelta
	if err := json.Unmarshal(ev.Delta, &d); err != nil {
		return Result{}
	}

	idx := *ev.Index
	id, ok := t.blockIndex[idx]
	if !ok {
		// Delta without a start; mint an id so the stream stays usable.
		id = uuid.New().String()
		t.blockIndex[idx] = id
	}

	var block *conversation.ContentBlock
	switch d.Type {
	case "text_delta":
		block = conversation.NewBlock(t.conversationID, conversation.BlockText)
		block.Content = d.Text
		t.blockTypes[idx] = conversation.BlockText
	case "thinking_delta":
		block = conversation.NewBlock(t.conversationID, conversation.BlockThinking)
		block.Content = d.Thinking
		t.blockTypes[idx] = conversation.BlockThinking
	case "input_json_delta":
		block = conversation.NewBlock(t.conversationID, conversation.BlockToolUse)
		block.Content = d.PartialJSON
		t.blockTypes[idx] = conversation.BlockToolUse
	default:
		return Result{}
	}

	block.ID = id
	block.Role = "assistant"
	block.IsPartial = true
	return Result{Blocks: []*conversation.ContentBlock{block}}
}

// onConsolidated handles a complete assistant or user turn bundled as one
// event. During replay phase persistence is suppressed entirely, but embedded
// tool results still reach the live delivery path. Outside replay phase the
// text and tool invocations are persisted as consolidated, non-partial copies
// without re-emitting already-streamed content to subscribers.
func (t *Translator) onConsolidated(ev *nativeEvent, role string) Result {
	if len(ev.Message) == 0 {
		return Result{}
	}
	var msg nativeMessage
	if err := json.Unmarshal(ev.Message, &msg); err != nil {
		return Result{}
	}
	if msg.Role != "" {
		role = msg.Role
	}

	var res Result
	for i, cb := range msg.Content {
		switch cb.Type {
		case "text", "thinking":
			block := conversation.NewBlock(t.conversationID, nativeBlockType(cb.Type))
			block.ID = t.consolidatedID(i, nativeBlockType(cb.Type))
			block.Role = role
			block.Content = cb.Text
			if cb.Type == "thinking" {
				block.Content = cb.Thinking
			}
			if !t.replay {
				res.RecordOnly = append(res.RecordOnly, block)
			}
		case "tool_use":
			block := t.toolBlock(&cb, role)
			if !t.replay {
				if block.Type == conversation.BlockQuestion {
					// Question prompts must reach subscribers; nothing
					// streamed them earlier in a consumable shape.
					res.Blocks = append(res.Blocks, block)
				} else {
					res.RecordOnly = append(res.RecordOnly, block)
				}
			} else if block.Type == conversation.BlockQuestion {
				res.LiveOnly = append(res.LiveOnly, block)
			}
		case "tool_result":
			block := conversation.NewBlock(t.conversationID, conversation.BlockToolResult)
			if cb.ToolUseID != "" {
				block.ID = cb.ToolUseID + ":result"
				block.ToolID = cb.ToolUseID
			}
			block.Role = role
			block.Content = flattenContent(cb.Content)
			block.IsError = cb.IsError
			if t.replay {
				res.LiveOnly = append(res.LiveOnly, block)
			} else {
				res.Blocks = append(res.Blocks, block)
			}
		}
	}

	t.resetIndexes()
	return res
}

// consolidatedID reuses the id minted for a streamed block at the same
// position so the consolidated copy finalizes it, otherwise mints a new one.
func (t *Translator) consolidatedID(idx int, blockType conversation.BlockType) string {
	if id, ok := t.blockIndex[idx]; ok && t.blockTypes[idx] == blockType {
		return id
	}
	return uuid.New().String()
}

// toolBlock builds a tool-use block, special-casing the reserved question
// tool into a structured question prompt.
func (t *Translator) toolBlock(cb *nativeContentBlock, role string) *conversation.ContentBlock {
	if cb.Name == questionToolName {
		block := conversation.NewBlock(t.conversationID, conversation.BlockQuestion)
		if cb.ID != "" {
			block.ID = cb.ID
		}
		block.Role = role
		block.ToolID = cb.ID
		block.ToolName = cb.Name
		var q struct {
			Question    string   `json:"question"`
			Options     []string `json:"options,omitempty"`
			MultiSelect bool     `json:"multi_select,omitempty"`
		}
		if len(cb.Input) > 0 && json.Unmarshal(cb.Input, &q) == nil {
			block.Content = q.Question
			if len(q.Options) > 0 {
				block.WithMeta("options", q.Options)
			}
			block.WithMeta("multiSelect", q.MultiSelect)
		}
		return block
	}

	block := conversation.NewBlock(t.conversationID, conversation.BlockToolUse)
	if cb.ID != "" {
		block.ID = cb.ID
	}
	block.Role = role
	block.ToolID = cb.ID
	block.ToolName = cb.Name
	block.Content = string(cb.Input)
	return block
}

func (t *Translator) onToolUse(ev *nativeEvent) Result {
	cb := nativeContentBlock{Type: "tool_use", ID: ev.ID, Name: ev.Name, Input: ev.Input}
	block := t.toolBlock(&cb, "assistant")
	if t.replay && block.Type != conversation.BlockQuestion {
		return Result{LiveOnly: []*conversation.ContentBlock{block}}
	}
	return Result{Blocks: []*conversation.ContentBlock{block}}
}

func (t *Translator) onToolResult(ev *nativeEvent) Result {
	block := conversation.NewBlock(t.conversationID, conversation.BlockToolResult)
	if ev.ToolUseID != "" {
		block.ID = ev.ToolUseID + ":result"
		block.ToolID = ev.ToolUseID
	}
	block.Content = flattenContent(ev.Content)
	block.IsError = ev.IsError
	if t.replay {
		return Result{LiveOnly: []*conversation.ContentBlock{block}}
	}
	return Result{Blocks: []*conversation.ContentBlock{block}}
}

func (t *Translator) onSystem(ev *nativeEvent) Result {
	block := conversation.NewBlock(t.conversationID, conversation.BlockSystem)
	block.Content = ev.Subtype
	if ev.Model != "" {
		block.WithMeta("model", ev.Model)
	}
	if ev.Version != "" {
		block.WithMeta("version", ev.Version)
	}
	if t.replay {
		return Result{LiveOnly: []*conversation.ContentBlock{block}}
	}
	return Result{Blocks: []*conversation.ContentBlock{block}}
}

func (t *Translator) onError(ev *nativeEvent) Result {
	block := conversation.NewBlock(t.conversationID, conversation.BlockError)
	block.IsError = true
	block.Content = ev.Error
	if block.Content == "" {
		block.Content = ev.Result
	}
	return Result{Blocks: []*conversation.ContentBlock{block}}
}

// onInputRequest handles explicit permission/input request events.
func (t *Translator) onInputRequest(ev *nativeEvent, raw string) Result {
	block := conversation.NewBlock(t.conversationID, conversation.BlockApprovalRequest)
	block.ToolID = ev.ToolUseID
	block.ToolName = ev.Name
	block.Content = DescribeToolUse(ev.Name, ev.Input)
	block.WithMeta("raw", raw)
	return Result{Blocks: []*conversation.ContentBlock{block}}
}

// onResult handles turn completion. Denials each yield an approval-request
// block and suppress the terminal session-end block; the caller emits it once
// every denial is resolved.
func (t *Translator) onResult(ev *nativeEvent) Result {
	res := Result{TurnComplete: true}
	t.resetIndexes()

	if len(ev.PermissionDenials) > 0 {
		for _, d := range ev.PermissionDenials {
			prompt := DescribeToolUse(d.ToolName, d.ToolInput)
			res.Denials = append(res.Denials, Denial{
				ToolUseID: d.ToolUseID,
				ToolName:  d.ToolName,
				ToolInput: d.ToolInput,
				Prompt:    prompt,
			})

			block := conversation.NewBlock(t.conversationID, conversation.BlockApprovalRequest)
			block.ID = d.ToolUseID + ":approval"
			block.ToolID = d.ToolUseID
			block.ToolName = d.ToolName
			block.Content = prompt
			block.WithMeta("toolInput", json.RawMessage(d.ToolInput))
			res.Blocks = append(res.Blocks, block)
		}
		return res
	}

	end := conversation.NewBlock(t.conversationID, conversation.BlockSessionEnd)
	end.Content = ev.Result
	end.IsError = ev.IsError
	end.WithMeta("isTurnComplete", true)
	res.Blocks = append(res.Blocks, end)
	return res
}

// unknown passes unrecognized event shapes through. Events that heuristically
// indicate the subprocess is waiting for the user become approval requests;
// everything else becomes an opaque raw block so new upstream event types are
// not dropped.
func (t *Translator) unknown(raw string) Result {
	var generic map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &generic); err == nil && awaitingUserInput(generic) {
		block := conversation.NewBlock(t.conversationID, conversation.BlockApprovalRequest)
		block.Content = "The agent is waiting for your approval"
		block.WithMeta("raw", raw)
		return Result{Blocks: []*conversation.ContentBlock{block}}
	}
	return t.passthroughRaw(raw)
}

func (t *Translator) passthroughRaw(raw string) Result {
	block := conversation.NewBlock(t.conversationID, conversation.BlockRaw)
	block.Content = raw
	return Result{Blocks: []*conversation.ContentBlock{block}}
}

// fallback forwards a line that is not structured JSON as plain text.
func (t *Translator) fallback(line string) Result {
	block := conversation.NewBlock(t.conversationID, conversation.BlockText)
	block.Content = line
	return Result{Blocks: []*conversation.ContentBlock{block}}
}

func (t *Translator) resetIndexes() {
	if len(t.blockIndex) > 0 {
		t.blockIndex = make(map[int]string)
		t.blockTypes = make(map[int]conversation.BlockType)
	}
}

// awaitingUserInput scans an unknown event for fields that indicate it is
// blocked on the user.
func awaitingUserInput(ev map[string]interface{}) bool {
	for _, key := range []string{
		"permission", "permission_request", "approval", "approval_required",
		"awaiting_input", "waiting_for_input", "requires_approval",
	} {
		if v, ok := ev[key]; ok {
			switch val := v.(type) {
			case bool:
				if val {
					return true
				}
			case nil:
			default:
				return true
			}
		}
	}
	return false
}

// DescribeToolUse generates a human-readable prompt for a tool invocation:
// the file path for edits and writes, the truncated command line for shell
// execution, a generic fallback otherwise.
func DescribeToolUse(toolName string, input json.RawMessage) string {
	var params map[string]interface{}
	if len(input) > 0 {
		_ = json.Unmarshal(input, &params)
	}

	switch toolName {
	case "Write":
		if path, ok := params["file_path"].(string); ok {
			return fmt.Sprintf("Write file: %s", path)
		}
	case "Edit":
		if path, ok := params["file_path"].(string); ok {
			return fmt.Sprintf("Edit file: %s", path)
		}
	case "Bash":
		if cmd, ok := params["command"].(string); ok {
			if len(cmd) > 100 {
				cmd = cmd[:100] + "..."
			}
			return fmt.Sprintf("Run command: %s", cmd)
		}
	}
	return fmt.Sprintf("Use %s tool", toolName)
}

func nativeBlockType(t string) conversation.BlockType {
	switch t {
	case "thinking":
		return conversation.BlockThinking
	case "tool_use":
		return conversation.BlockToolUse
	case "tool_result":
		return conversation.BlockToolResult
	default:
		return conversation.BlockText
	}
}

func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []nativeContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}
