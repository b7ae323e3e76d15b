// Package approval resolves auto-denied tool calls: the human approves or
// rejects a captured invocation, approved actions are executed directly, and
// the outcome is fed back into the conversation.
package approval

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/domain/conversation"
	"github.com/agentdeck/agentdeck/internal/domain/ports"
	"github.com/agentdeck/agentdeck/internal/registry"
)

// Coordinator owns the pending-permission resolution workflow.
type Coordinator struct {
	registry *registry.Registry
	bus      ports.Publisher
	notifier ports.SubprocessNotifier

	execTimeout time.Duration
	maxOutput   int
}

// New wires a coordinator. execTimeout bounds direct execution of approved
// commands; maxOutput caps captured command output in bytes.
func New(reg *registry.Registry, bus ports.Publisher, notifier ports.SubprocessNotifier, execTimeout time.Duration, maxOutput int) *Coordinator {
	if execTimeout <= 0 {
		execTimeout = 30 * time.Second
	}
	if maxOutput <= 0 {
		maxOutput = 32 * 1024
	}
	return &Coordinator{
		registry:    reg,
		bus:         bus,
		notifier:    notifier,
		execTimeout: execTimeout,
		maxOutput:   maxOutput,
	}
}

// Pending returns the unresolved permissions for a conversation in the order
// they were captured.
func (c *Coordinator) Pending(conversationID string) ([]*conversation.PendingPermission, error) {
	session, err := c.registry.Get(conversationID)
	if err != nil {
		return nil, err
	}
	return session.PendingPermissions(), nil
}

// Resolve settles one pending permission. toolUseID selects a specific
// pending call; when empty the oldest one is resolved. Approved actions are
// executed directly against the conversation's working directory and the
// outcome, success or failure, is surfaced as a tool result and reported back
// to the subprocess. Once the last pending permission resolves, the withheld
// turn-end notification is released.
func (c *Coordinator) Resolve(conversationID string, approved bool, toolUseID string) (*conversation.PendingPermission, error) {
	session, err := c.registry.Get(conversationID)
	if err != nil {
		return nil, err
	}

	pending := session.TakePending(toolUseID)
	if pending == nil {
		return nil, domain.ErrNoPendingPermission
	}

	conv := session.Snapshot()
	log.Info().
		Str("conversation_id", conv.ID).
		Str("tool_use_id", pending.ToolUseID).
		Str("tool", pending.ToolName).
		Bool("approved", approved).
		Msg("permission resolved")

	var (
		output string
		failed bool
	)
	if approved {
		output, err = c.execute(pending, conv.ProjectPath)
		if err != nil {
			output = fmt.Sprintf("Execution failed: %v", err)
			failed = true
		}
	} else {
		output = "Tool execution denied by user"
		failed = true
	}

	result := conversation.NewBlock(conv.ID, conversation.BlockToolResult)
	result.ID = pending.ToolUseID + ":result"
	result.ToolID = pending.ToolUseID
	result.ToolName = pending.ToolName
	result.Content = output
	result.IsError = failed
	result.WithMeta("approved", approved)
	c.bus.Publish(result)

	c.notify(conv.ID, pending, approved, output)

	if session.PendingCount() == 0 {
		if end := session.TakeDeferredEnd(); end != nil {
			c.bus.Publish(end)
		}
	}

	session.TouchActivity()
	return pending, nil
}

// notify reports the resolution outcome to the subprocess so the agent's next
// turn knows what actually happened. Best effort: the subprocess may be gone.
func (c *Coordinator) notify(conversationID string, p *conversation.PendingPermission, approved bool, output string) {
	var text string
	if approved {
		text = fmt.Sprintf(
			"The user approved the previously denied %s call (%s). It was executed with this result:\n%s",
			p.ToolName, p.Prompt, output)
	} else {
		text = fmt.Sprintf(
			"The user denied the %s call (%s). Do not retry it; continue without this action.",
			p.ToolName, p.Prompt)
	}

	if err := c.notifier.NotifySubprocess(conversationID, text); err != nil {
		log.Debug().Err(err).
			Str("conversation_id", conversationID).
			Str("tool_use_id", p.ToolUseID).
			Msg("subprocess notification skipped")
	}
}
