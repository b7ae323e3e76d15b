// Package bus implements per-conversation fanout of content blocks with a
// bounded replay buffer and a pending-notification queue for terminal events
// that had no live subscriber.
package bus

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentdeck/agentdeck/internal/domain/conversation"
	"github.com/agentdeck/agentdeck/internal/domain/ports"
)

// Handler receives content blocks for one conversation.
type Handler func(block *conversation.ContentBlock)

// TopicLookup resolves a conversation's display topic for decorating pending
// notifications. May return "".
type TopicLookup func(conversationID string) string

// Bus is the delivery fanout for all conversations.
type Bus struct {
	writer   ports.BlockWriter
	capacity int
	topic    TopicLookup

	mu      sync.RWMutex
	subs    map[string]map[string]Handler           // conversationID -> subscriberID -> handler
	buffers map[string][]*conversation.ContentBlock // bounded FIFO replay buffers
	pending map[string][]*conversation.ContentBlock // undelivered terminal events
}

// New creates a bus. capacity bounds each conversation's replay buffer.
func New(writer ports.BlockWriter, capacity int) *Bus {
	if capacity <= 0 {
		capacity = 200
	}
	return &Bus{
		writer:   writer,
		capacity: capacity,
		subs:     make(map[string]map[string]Handler),
		buffers:  make(map[string][]*conversation.ContentBlock),
		pending:  make(map[string][]*conversation.ContentBlock),
	}
}

// SetTopicLookup installs the topic resolver used to decorate pending
// notifications. Safe to call once during wiring, before traffic.
func (b *Bus) SetTopicLookup(fn TopicLookup) {
	b.topic = fn
}

// Subscribe registers a handler for one conversation and returns its
// unsubscribe function. The buffered blocks are replayed to the new handler
// immediately, followed by any queued pending notifications (drained exactly
// once).
func (b *Bus) Subscribe(conversationID string, h Handler) func() {
	subID := uuid.New().String()

	b.mu.Lock()
	if b.subs[conversationID] == nil {
		b.subs[conversationID] = make(map[string]Handler)
	}
	b.subs[conversationID][subID] = h

	replay := make([]*conversation.ContentBlock, len(b.buffers[conversationID]))
	copy(replay, b.buffers[conversationID])

	notices := b.pending[conversationID]
	delete(b.pending, conversationID)
	b.mu.Unlock()

	for _, block := range replay {
		b.deliver(subID, h, block)
	}
	for _, block := range notices {
		b.deliver(subID, h, block)
	}

	log.Debug().
		Str("conversation_id", conversationID).
		Str("subscriber_id", subID).
		Int("replayed", len(replay)).
		Int("pending", len(notices)).
		Msg("subscriber registered")

	return func() {
		b.mu.Lock()
		if handlers, ok := b.subs[conversationID]; ok {
			delete(handlers, subID)
			if len(handlers) == 0 {
				delete(b.subs, conversationID)
			}
		}
		b.mu.Unlock()
	}
}

// Publish appends the block to the replay buffer (evicting oldest on
// overflow), persists it fire-and-forget, and fans it out to every handler.
// A session-end block published with zero handlers is queued as a pending
// notification decorated with the conversation topic.
func (b *Bus) Publish(block *conversation.ContentBlock) {
	b.mu.Lock()
	buf := append(b.buffers[block.ConversationID], block)
	if len(buf) > b.capacity {
		buf = buf[len(buf)-b.capacity:]
	}
	b.buffers[block.ConversationID] = buf
	handlers := b.handlersLocked(block.ConversationID)

	if len(handlers) == 0 && block.Type == conversation.BlockSessionEnd {
		notice := block.Clone()
		if b.topic != nil {
			if topic := b.topic(block.ConversationID); topic != "" {
				notice.WithMeta("topic", topic)
			}
		}
		b.pending[block.ConversationID] = append(b.pending[block.ConversationID], notice)
	}
	b.mu.Unlock()

	if b.writer != nil {
		b.writer.SaveBlock(block)
	}
	b.fanOut(handlers, block)
}

// PublishEphemeral fans a block out without buffering or persisting it.
func (b *Bus) PublishEphemeral(block *conversation.ContentBlock) {
	b.mu.RLock()
	handlers := b.handlersLocked(block.ConversationID)
	b.mu.RUnlock()
	b.fanOut(handlers, block)
}

// Record persists a block without delivering it to subscribers.
func (b *Bus) Record(block *conversation.ContentBlock) {
	if b.writer != nil {
		b.writer.SaveBlock(block)
	}
}

// DropConversation releases all in-memory state for a conversation:
// handlers, replay buffer, pending notifications.
func (b *Bus) DropConversation(conversationID string) {
	b.mu.Lock()
	delete(b.subs, conversationID)
	delete(b.buffers, conversationID)
	delete(b.pending, conversationID)
	b.mu.Unlock()
}

// SubscriberCount returns the number of live handlers for a conversation.
func (b *Bus) SubscriberCount(conversationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[conversationID])
}

// Buffered returns a copy of the replay buffer. Exposed for tests.
func (b *Bus) Buffered(conversationID string) []*conversation.ContentBlock {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*conversation.ContentBlock, len(b.buffers[conversationID]))
	copy(out, b.buffers[conversationID])
	return out
}

type subscriberHandler struct {
	id string
	h  Handler
}

// handlersLocked snapshots the handlers for a conversation. Callers hold b.mu.
func (b *Bus) handlersLocked(conversationID string) []subscriberHandler {
	m := b.subs[conversationID]
	if len(m) == 0 {
		return nil
	}
	out := make([]subscriberHandler, 0, len(m))
	for id, h := range m {
		out = append(out, subscriberHandler{id: id, h: h})
	}
	return out
}

func (b *Bus) fanOut(handlers []subscriberHandler, block *conversation.ContentBlock) {
	for _, sh := range handlers {
		b.deliver(sh.id, sh.h, block)
	}
}

// deliver invokes one handler, isolating panics so one failing subscriber
// cannot break delivery to others.
func (b *Bus) deliver(subID string, h Handler, block *conversation.ContentBlock) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().
				Str("subscriber_id", subID).
				Str("block_id", block.ID).
				Interface("panic", r).
				Msg("subscriber handler panicked")
		}
	}()
	h(block)
}
