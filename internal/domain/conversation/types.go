// Package conversation defines the normalized data model shared by the
// orchestration engine: conversations, content blocks, and the ephemeral
// approval records attached to them.
package conversation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Tool identifies the agent CLI backing a conversation.
type Tool string

const (
	ToolClaude Tool = "claude"
	ToolCodex  Tool = "codex"
)

// Mode is the interaction mode requested for a conversation.
type Mode string

const (
	ModeAgent Mode = "agent"
	ModePlan  Mode = "plan"
	ModeAsk   Mode = "ask"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusEnded     Status = "ended"
	StatusError     Status = "error"
)

// Conversation is the durable record of one chat session with an agent tool,
// independent of whether its subprocess is currently running.
type Conversation struct {
	ID             string    `json:"id"`
	Tool           Tool      `json:"tool"`
	Topic          string    `json:"topic,omitempty"`
	Model          string    `json:"model,omitempty"`
	Mode           Mode      `json:"mode"`
	PermissionMode string    `json:"permissionMode,omitempty"`
	ProjectPath    string    `json:"projectPath"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	// SessionID is the external resumption token reported by the subprocess.
	// Empty until the first event carrying one arrives.
	SessionID    string    `json:"sessionId,omitempty"`
	LastActivity time.Time `json:"lastActivity"`
	// AutoTopic marks a topic derived from the first user message rather than
	// supplied at creation.
	AutoTopic bool `json:"autoTopic,omitempty"`
}

// New creates a conversation in status created.
func New(tool Tool, projectPath string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:           uuid.New().String(),
		Tool:         tool,
		Mode:         ModeAgent,
		ProjectPath:  projectPath,
		Status:       StatusCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActivity: now,
	}
}

// Touch updates the activity timestamps.
func (c *Conversation) Touch() {
	now := time.Now().UTC()
	c.UpdatedAt = now
	c.LastActivity = now
}

// BlockType enumerates the normalized content block types.
type BlockType string

const (
	BlockText             BlockType = "text"
	BlockThinking         BlockType = "thinking"
	BlockToolUse          BlockType = "tool_use"
	BlockToolResult       BlockType = "tool_result"
	BlockApprovalRequest  BlockType = "approval_request"
	BlockQuestion         BlockType = "question"
	BlockQuestionAnswered BlockType = "question_answered"
	BlockError            BlockType = "error"
	BlockSessionEnd       BlockType = "session_end"
	BlockRaw              BlockType = "raw"
	BlockSystem           BlockType = "system"
	BlockTopicUpdated     BlockType = "topic_updated"
)

// ContentBlock is the normalized, tool-agnostic unit of output delivered to
// subscribers and persisted. Blocks sharing an id are successive updates to
// one logical unit; the last write wins on persistence, and a block is final
// once received with IsPartial=false.
type ContentBlock struct {
	ID             string                 `json:"id"`
	Type           BlockType              `json:"type"`
	ConversationID string                 `json:"conversationId"`
	Content        string                 `json:"content,omitempty"`
	Role           string                 `json:"role,omitempty"`
	ToolID         string                 `json:"toolId,omitempty"`
	ToolName       string                 `json:"toolName,omitempty"`
	IsError        bool                   `json:"isError,omitempty"`
	IsPartial      bool                   `json:"isPartial,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// NewBlock creates a content block with a fresh id.
func NewBlock(conversationID string, blockType BlockType) *ContentBlock {
	return &ContentBlock{
		ID:             uuid.New().String(),
		Type:           blockType,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
	}
}

// WithMeta sets a metadata key, allocating the map on first use.
func (b *ContentBlock) WithMeta(key string, value interface{}) *ContentBlock {
	if b.Metadata == nil {
		b.Metadata = make(map[string]interface{})
	}
	b.Metadata[key] = value
	return b
}

// Clone returns a shallow copy with its own metadata map.
func (b *ContentBlock) Clone() *ContentBlock {
	cp := *b
	if b.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(b.Metadata))
		for k, v := range b.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// PendingPermission captures a tool invocation the subprocess declined to
// execute, awaiting a human decision. Keyed by the tool-use id within a
// conversation and destroyed once resolved.
type PendingPermission struct {
	ToolUseID string          `json:"toolUseId"`
	ToolName  string          `json:"toolName"`
	ToolInput json.RawMessage `json:"toolInput,omitempty"`
	Prompt    string          `json:"prompt"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Attachment is an input attachment on an outbound user message. Images are
// forwarded inline as base64 parts; anything else becomes a textual reference.
type Attachment struct {
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
	Data      string `json:"data"` // base64
}

// IsImage reports whether the attachment can be sent as an inline image part.
func (a Attachment) IsImage() bool {
	switch a.MediaType {
	case "image/png", "image/jpeg", "image/gif", "image/webp":
		return true
	}
	return false
}
