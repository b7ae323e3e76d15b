// Package ports defines the interfaces (ports) between the orchestration
// engine's components.
package ports

import (
	"github.com/agentdeck/agentdeck/internal/domain/conversation"
)

// Publisher is the delivery surface components emit content blocks through.
type Publisher interface {
	// Publish buffers, persists, and fans out a block to all subscribers of
	// its conversation.
	Publish(block *conversation.ContentBlock)

	// PublishEphemeral fans out a block without persisting or buffering it.
	// Used for replay-phase events whose content is already durable.
	PublishEphemeral(block *conversation.ContentBlock)

	// Record persists a block without delivering it to subscribers. Used for
	// consolidated copies of content that already streamed as deltas.
	Record(block *conversation.ContentBlock)
}

// BlockWriter persists content blocks. Writes are keyed upserts: repeated
// writes to the same block id replace the stored row.
type BlockWriter interface {
	SaveBlock(block *conversation.ContentBlock)
}

// ConversationWriter persists conversation records.
type ConversationWriter interface {
	SaveConversation(c *conversation.Conversation) error
}

// ToolAdapter is the per-CLI-tool strategy for resolving the executable and
// building the argument list for a spawn.
type ToolAdapter interface {
	// Tool returns the tool identity this adapter serves.
	Tool() conversation.Tool

	// Executable resolves the tool binary, or fails if it cannot be located.
	Executable() (string, error)

	// BuildArgs constructs the spawn argument list for the given options.
	BuildArgs(opts SpawnOptions) []string

	// Environ returns the sanitized environment for the subprocess, derived
	// from the given base environment.
	Environ(base []string) []string
}

// SpawnOptions carries the per-conversation settings an adapter turns into
// command-line arguments.
type SpawnOptions struct {
	Mode           conversation.Mode
	Model          string
	PermissionMode string
	ResumeToken    string
}

// SubprocessNotifier writes synthetic input to a conversation's subprocess
// without surfacing it as a user-visible message.
type SubprocessNotifier interface {
	NotifySubprocess(conversationID, text string) error
}
