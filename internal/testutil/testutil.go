// Package testutil provides shared fakes for engine tests.
package testutil

import (
	"sync"

	"github.com/agentdeck/agentdeck/internal/domain/conversation"
)

// BlockRecorder implements ports.Publisher and ports.BlockWriter, capturing
// every block routed through it.
type BlockRecorder struct {
	mu        sync.Mutex
	published []*conversation.ContentBlock
	ephemeral []*conversation.ContentBlock
	recorded  []*conversation.ContentBlock
	saved     []*conversation.ContentBlock
}

// NewBlockRecorder creates an empty recorder.
func NewBlockRecorder() *BlockRecorder {
	return &BlockRecorder{}
}

func (r *BlockRecorder) Publish(b *conversation.ContentBlock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, b)
}

func (r *BlockRecorder) PublishEphemeral(b *conversation.ContentBlock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ephemeral = append(r.ephemeral, b)
}

func (r *BlockRecorder) Record(b *conversation.ContentBlock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = append(r.recorded, b)
}

func (r *BlockRecorder) SaveBlock(b *conversation.ContentBlock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, b)
}

// Published returns a copy of the blocks delivered via Publish.
func (r *BlockRecorder) Published() []*conversation.ContentBlock {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*conversation.ContentBlock, len(r.published))
	copy(out, r.published)
	return out
}

// Ephemeral returns a copy of the blocks delivered via PublishEphemeral.
func (r *BlockRecorder) Ephemeral() []*conversation.ContentBlock {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*conversation.ContentBlock, len(r.ephemeral))
	copy(out, r.ephemeral)
	return out
}

// Recorded returns a copy of the blocks routed via Record.
func (r *BlockRecorder) Recorded() []*conversation.ContentBlock {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*conversation.ContentBlock, len(r.recorded))
	copy(out, r.recorded)
	return out
}

// Saved returns a copy of the blocks persisted via SaveBlock.
func (r *BlockRecorder) Saved() []*conversation.ContentBlock {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*conversation.ContentBlock, len(r.saved))
	copy(out, r.saved)
	return out
}

// PublishedOfType filters the published blocks by type.
func (r *BlockRecorder) PublishedOfType(t conversation.BlockType) []*conversation.ContentBlock {
	var out []*conversation.ContentBlock
	for _, b := range r.Published() {
		if b.Type == t {
			out = append(out, b)
		}
	}
	return out
}

// ConversationRecorder implements ports.ConversationWriter.
type ConversationRecorder struct {
	mu    sync.Mutex
	saves []conversation.Conversation
}

// NewConversationRecorder creates an empty recorder.
func NewConversationRecorder() *ConversationRecorder {
	return &ConversationRecorder{}
}

func (r *ConversationRecorder) SaveConversation(c *conversation.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, *c)
	return nil
}

// Saves returns a copy of every saved conversation snapshot.
func (r *ConversationRecorder) Saves() []conversation.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]conversation.Conversation, len(r.saves))
	copy(out, r.saves)
	return out
}

// NotifierRecorder implements ports.SubprocessNotifier.
type NotifierRecorder struct {
	mu       sync.Mutex
	messages []string
	Err      error
}

// NewNotifierRecorder creates an empty recorder.
func NewNotifierRecorder() *NotifierRecorder {
	return &NotifierRecorder{}
}

func (r *NotifierRecorder) NotifySubprocess(conversationID, text string) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
	return nil
}

// Messages returns a copy of the delivered notifications.
func (r *NotifierRecorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	copy(out, r.messages)
	return out
}
