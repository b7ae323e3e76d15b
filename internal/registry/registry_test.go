package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/domain/conversation"
)

type fakeLoader struct {
	convs []*conversation.Conversation
	err   error
}

func (f *fakeLoader) LoadActiveConversations() ([]*conversation.Conversation, error) {
	return f.convs, f.err
}

func TestGetMissingSession(t *testing.T) {
	r := New(nil)
	_, err := r.Get("nope")
	if !errors.Is(err, domain.ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestAddGetRemove(t *testing.T) {
	r := New(nil)
	conv := conversation.New(conversation.ToolClaude, "/tmp/p")
	r.Add(NewSession(conv, false))

	s, err := r.Get(conv.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if s.Snapshot().ID != conv.ID {
		t.Errorf("wrong session returned")
	}
	if r.Count() != 1 {
		t.Errorf("expected count 1, got %d", r.Count())
	}

	removed := r.Remove(conv.ID)
	if removed == nil {
		t.Errorf("expected removed session")
	}
	if _, err := r.Get(conv.ID); err == nil {
		t.Errorf("session must be gone after remove")
	}
}

func TestListOrdersByActivity(t *testing.T) {
	r := New(nil)

	older := conversation.New(conversation.ToolClaude, "/tmp/p")
	older.LastActivity = time.Now().UTC().Add(-time.Hour)
	newer := conversation.New(conversation.ToolClaude, "/tmp/p")

	r.Add(NewSession(older, false))
	r.Add(NewSession(newer, false))

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	if list[0].Snapshot().ID != newer.ID {
		t.Errorf("newest activity must come first")
	}
}

func TestRestoreForcesOrphanedToSuspended(t *testing.T) {
	running := conversation.New(conversation.ToolClaude, "/tmp/p")
	running.Status = conversation.StatusRunning
	running.SessionID = "sess-1"

	created := conversation.New(conversation.ToolClaude, "/tmp/p")
	created.Status = conversation.StatusCreated

	suspended := conversation.New(conversation.ToolCodex, "/tmp/p")
	suspended.Status = conversation.StatusSuspended

	r := New(nil)
	n, err := r.Restore(&fakeLoader{convs: []*conversation.Conversation{running, created, suspended}})
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 restored, got %d", n)
	}

	for _, id := range []string{running.ID, created.ID, suspended.ID} {
		s, err := r.Get(id)
		if err != nil {
			t.Fatalf("missing restored session %s", id)
		}
		if s.Status() != conversation.StatusSuspended {
			t.Errorf("restored session %s should be suspended, got %s", id, s.Status())
		}
	}

	// A resumption token puts the session into replay phase for re-attach.
	withToken, _ := r.Get(running.ID)
	if !withToken.Translator().InReplay() {
		t.Errorf("session with resumption token must restore in replay phase")
	}
	withoutToken, _ := r.Get(created.ID)
	if withoutToken.Translator().InReplay() {
		t.Errorf("session without token must not be in replay phase")
	}
}

func TestPendingPermissionsFIFO(t *testing.T) {
	s := NewSession(conversation.New(conversation.ToolClaude, "/tmp/p"), false)

	for _, id := range []string{"t1", "t2", "t3"} {
		s.AddPending(&conversation.PendingPermission{ToolUseID: id, ToolName: "Bash"})
	}
	if s.PendingCount() != 3 {
		t.Fatalf("expected 3 pending, got %d", s.PendingCount())
	}

	// Named takes win over FIFO order.
	p := s.TakePending("t2")
	if p == nil || p.ToolUseID != "t2" {
		t.Fatalf("named take failed")
	}

	// Empty id resolves the oldest remaining.
	p = s.TakePending("")
	if p == nil || p.ToolUseID != "t1" {
		t.Fatalf("expected oldest t1, got %v", p)
	}
	p = s.TakePending("")
	if p == nil || p.ToolUseID != "t3" {
		t.Fatalf("expected t3, got %v", p)
	}
	if s.TakePending("") != nil {
		t.Errorf("no pending should remain")
	}
}

func TestTakePendingUnknownID(t *testing.T) {
	s := NewSession(conversation.New(conversation.ToolClaude, "/tmp/p"), false)
	s.AddPending(&conversation.PendingPermission{ToolUseID: "t1"})
	if s.TakePending("other") != nil {
		t.Errorf("unknown id must not resolve anything")
	}
	if s.PendingCount() != 1 {
		t.Errorf("pending set must be untouched")
	}
}

func TestDeferredEndSingleShot(t *testing.T) {
	s := NewSession(conversation.New(conversation.ToolClaude, "/tmp/p"), false)
	block := conversation.NewBlock("c", conversation.BlockSessionEnd)
	s.SetDeferredEnd(block)

	if got := s.TakeDeferredEnd(); got != block {
		t.Fatalf("expected the stored block back")
	}
	if s.TakeDeferredEnd() != nil {
		t.Errorf("deferred end must clear after take")
	}
}

func TestSetSessionIDOnlyOnChange(t *testing.T) {
	s := NewSession(conversation.New(conversation.ToolClaude, "/tmp/p"), false)
	if !s.SetSessionID("sess-1") {
		t.Errorf("first token must report a change")
	}
	if s.SetSessionID("sess-1") {
		t.Errorf("same token must not report a change")
	}
	if s.SetSessionID("") {
		t.Errorf("empty token must be ignored")
	}
	if s.Snapshot().SessionID != "sess-1" {
		t.Errorf("token lost: %q", s.Snapshot().SessionID)
	}
}

func TestInitialPromptSingleShot(t *testing.T) {
	s := NewSession(conversation.New(conversation.ToolClaude, "/tmp/p"), false)
	s.SetInitialPrompt("build the thing")
	if got := s.TakeInitialPrompt(); got != "build the thing" {
		t.Errorf("unexpected prompt %q", got)
	}
	if s.TakeInitialPrompt() != "" {
		t.Errorf("prompt must clear after take")
	}
}

func TestTopicLookup(t *testing.T) {
	r := New(nil)
	conv := conversation.New(conversation.ToolClaude, "/tmp/p")
	s := NewSession(conv, false)
	r.Add(s)

	s.SetTopic("fix the tests", true)
	if got := r.Topic(conv.ID); got != "fix the tests" {
		t.Errorf("unexpected topic %q", got)
	}
	if r.Topic("missing") != "" {
		t.Errorf("missing conversation must yield empty topic")
	}
	if !s.Snapshot().AutoTopic {
		t.Errorf("auto flag lost")
	}
}
