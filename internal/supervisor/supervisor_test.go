package supervisor

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/agentdeck/agentdeck/internal/adapters"
	"github.com/agentdeck/agentdeck/internal/domain/conversation"
	"github.com/agentdeck/agentdeck/internal/domain/ports"
	"github.com/agentdeck/agentdeck/internal/registry"
	"github.com/agentdeck/agentdeck/internal/testutil"
	"github.com/agentdeck/agentdeck/internal/translator"
)

// catAdapter spawns /bin/cat, which echoes stdin back on stdout. Enough to
// exercise attach, stdin delivery, and lifecycle transitions without a real
// agent CLI.
type catAdapter struct{}

func (catAdapter) Tool() conversation.Tool               { return conversation.ToolClaude }
func (catAdapter) Executable() (string, error)           { return "/bin/cat", nil }
func (catAdapter) BuildArgs(ports.SpawnOptions) []string { return nil }
func (catAdapter) Environ(base []string) []string        { return base }

// noisyAdapter spawns a shell that writes one stderr line and then echoes
// stdin, exercising the stderr pump.
type noisyAdapter struct{}

func (noisyAdapter) Tool() conversation.Tool     { return conversation.ToolCodex }
func (noisyAdapter) Executable() (string, error) { return "/bin/sh", nil }
func (noisyAdapter) BuildArgs(ports.SpawnOptions) []string {
	return []string{"-c", "echo boom 1>&2; cat"}
}
func (noisyAdapter) Environ(base []string) []string { return base }

func newTestSupervisor(t *testing.T) (*Supervisor, *registry.Registry, *testutil.BlockRecorder, *testutil.ConversationRecorder) {
	t.Helper()
	reg := registry.New(nil)
	adapt := adapters.NewRegistry("claude", "codex")
	adapt.Register(catAdapter{})

	bus := testutil.NewBlockRecorder()
	convs := testutil.NewConversationRecorder()
	sup := New(reg, adapt, bus, convs, Options{SettleDelay: 10 * time.Millisecond})
	return sup, reg, bus, convs
}

func newTestSession(t *testing.T, sup *Supervisor) *registry.Session {
	t.Helper()
	session, err := sup.CreateConversation(CreateRequest{
		Tool:        conversation.ToolClaude,
		ProjectPath: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return session
}

func TestCreateConversationValidates(t *testing.T) {
	sup, _, _, convs := newTestSupervisor(t)

	if _, err := sup.CreateConversation(CreateRequest{Tool: "gemini", ProjectPath: t.TempDir()}); err == nil {
		t.Errorf("unknown tool must be rejected")
	}
	if _, err := sup.CreateConversation(CreateRequest{Tool: conversation.ToolClaude, ProjectPath: "/no/such/dir"}); err == nil {
		t.Errorf("missing project path must be rejected")
	}

	session := newTestSession(t, sup)
	conv := session.Snapshot()
	if conv.Status != conversation.StatusCreated {
		t.Errorf("new conversation must start created, got %s", conv.Status)
	}
	if conv.Mode != conversation.ModeAgent {
		t.Errorf("default mode must be agent, got %s", conv.Mode)
	}
	if len(convs.Saves()) == 0 {
		t.Errorf("creation must persist the conversation")
	}
}

func TestAttachAndClose(t *testing.T) {
	sup, reg, bus, _ := newTestSupervisor(t)
	session := newTestSession(t, sup)
	id := session.Snapshot().ID

	if err := sup.Attach(context.Background(), id); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if session.Status() != conversation.StatusRunning {
		t.Errorf("attached conversation must be running, got %s", session.Status())
	}
	if session.PID() == 0 {
		t.Errorf("expected a live pid")
	}

	// Idempotent: a second attach is a no-op.
	pid := session.PID()
	if err := sup.Attach(context.Background(), id); err != nil {
		t.Fatalf("re-attach failed: %v", err)
	}
	if session.PID() != pid {
		t.Errorf("re-attach must not respawn")
	}

	if err := sup.Close(id); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := reg.Get(id); err == nil {
		t.Errorf("closed conversation must leave the registry")
	}

	ends := bus.PublishedOfType(conversation.BlockSessionEnd)
	if len(ends) == 0 {
		t.Errorf("close must emit a session end block")
	}
}

func TestReattachWithResumeTokenEntersReplay(t *testing.T) {
	sup, _, _, _ := newTestSupervisor(t)
	session := newTestSession(t, sup)
	id := session.Snapshot().ID

	if err := sup.Attach(context.Background(), id); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	sup.dispatch(session, translator.Result{SessionID: "sess-77"})
	if session.Translator().InReplay() {
		t.Fatalf("first attach without a token must not be in replay")
	}

	if err := sup.Suspend(id); err != nil {
		t.Fatalf("suspend failed: %v", err)
	}
	if err := sup.Attach(context.Background(), id); err != nil {
		t.Fatalf("re-attach failed: %v", err)
	}
	defer func() { _ = sup.Close(id) }()

	if !session.Translator().InReplay() {
		t.Fatalf("re-attach with a resumption token must enter replay phase")
	}

	// A replayed consolidated turn must not be persisted a second time.
	res := session.Translator().Translate([]byte(
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"earlier turn"}]}}`))
	if len(res.RecordOnly) != 0 || len(res.Blocks) != 0 {
		t.Errorf("replayed consolidated content must not be persisted: %+v", res)
	}
}

func TestStderrEmitsErrorBlocks(t *testing.T) {
	reg := registry.New(nil)
	adapt := adapters.NewRegistry("claude", "codex")
	adapt.Register(noisyAdapter{})

	bus := testutil.NewBlockRecorder()
	convs := testutil.NewConversationRecorder()
	sup := New(reg, adapt, bus, convs, Options{SettleDelay: 10 * time.Millisecond})

	session, err := sup.CreateConversation(CreateRequest{
		Tool:        conversation.ToolCodex,
		ProjectPath: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	id := session.Snapshot().ID
	if err := sup.Attach(context.Background(), id); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	defer func() { _ = sup.Close(id) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if errs := bus.PublishedOfType(conversation.BlockError); len(errs) > 0 {
			if errs[0].Content != "boom" || !errs[0].IsError {
				t.Errorf("unexpected error block: %+v", errs[0])
			}
			if session.Status() != conversation.StatusRunning {
				t.Errorf("stderr output must not alter status, got %s", session.Status())
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no error block emitted for stderr output")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSendMessagePublishesUserBlockAndDerivesTopic(t *testing.T) {
	sup, _, bus, _ := newTestSupervisor(t)
	session := newTestSession(t, sup)
	id := session.Snapshot().ID

	err := sup.SendMessage(context.Background(), id, "Fix the failing integration test", nil)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	defer func() { _ = sup.Close(id) }()

	texts := bus.PublishedOfType(conversation.BlockText)
	if len(texts) != 1 || texts[0].Role != "user" {
		t.Fatalf("expected one user text block, got %d", len(texts))
	}
	if texts[0].Content != "Fix the failing integration test" {
		t.Errorf("unexpected content %q", texts[0].Content)
	}

	if topic := session.Snapshot().Topic; topic != "Fix the failing integration test" {
		t.Errorf("topic not derived: %q", topic)
	}
	if !session.Snapshot().AutoTopic {
		t.Errorf("derived topic must be flagged auto")
	}
	updates := bus.PublishedOfType(conversation.BlockTopicUpdated)
	if len(updates) != 1 {
		t.Errorf("expected a topic_updated block, got %d", len(updates))
	}
}

func TestSendMessageEndsReplay(t *testing.T) {
	sup, reg, _, _ := newTestSupervisor(t)

	conv := conversation.New(conversation.ToolClaude, t.TempDir())
	conv.SessionID = "sess-1"
	conv.Status = conversation.StatusSuspended
	session := registry.NewSession(conv, true)
	reg.Add(session)

	if !session.Translator().InReplay() {
		t.Fatalf("precondition: session must start in replay")
	}
	if err := sup.SendMessage(context.Background(), conv.ID, "hello again", nil); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	defer func() { _ = sup.Close(conv.ID) }()

	if session.Translator().InReplay() {
		t.Errorf("a fresh user message must end replay phase")
	}
}

func TestDispatchRoutesResultChannels(t *testing.T) {
	sup, _, bus, _ := newTestSupervisor(t)
	session := newTestSession(t, sup)
	id := session.Snapshot().ID

	live := conversation.NewBlock(id, conversation.BlockToolResult)
	record := conversation.NewBlock(id, conversation.BlockText)
	deliver := conversation.NewBlock(id, conversation.BlockText)

	sup.dispatch(session, translator.Result{
		Blocks:     []*conversation.ContentBlock{deliver},
		LiveOnly:   []*conversation.ContentBlock{live},
		RecordOnly: []*conversation.ContentBlock{record},
	})

	if got := bus.Published(); len(got) != 1 || got[0] != deliver {
		t.Errorf("Blocks must go through Publish")
	}
	if got := bus.Ephemeral(); len(got) != 1 || got[0] != live {
		t.Errorf("LiveOnly must go through PublishEphemeral")
	}
	if got := bus.Recorded(); len(got) != 1 || got[0] != record {
		t.Errorf("RecordOnly must go through Record")
	}
}

func TestDispatchCapturesSessionID(t *testing.T) {
	sup, _, _, convs := newTestSupervisor(t)
	session := newTestSession(t, sup)

	before := len(convs.Saves())
	sup.dispatch(session, translator.Result{SessionID: "sess-42"})

	if session.Snapshot().SessionID != "sess-42" {
		t.Errorf("session id not captured")
	}
	saves := convs.Saves()
	if len(saves) <= before {
		t.Errorf("new session id must persist immediately")
	}
	if saves[len(saves)-1].SessionID != "sess-42" {
		t.Errorf("persisted snapshot missing token")
	}

	// Same token again: no extra persist.
	count := len(convs.Saves())
	sup.dispatch(session, translator.Result{SessionID: "sess-42"})
	if len(convs.Saves()) != count {
		t.Errorf("unchanged token must not re-persist")
	}
}

func TestDispatchDenialsDeferSessionEnd(t *testing.T) {
	sup, _, _, _ := newTestSupervisor(t)
	session := newTestSession(t, sup)

	sup.dispatch(session, translator.Result{
		TurnComplete: true,
		Denials: []translator.Denial{
			{ToolUseID: "t1", ToolName: "Bash", Prompt: "Run command: true"},
			{ToolUseID: "t2", ToolName: "Write", Prompt: "Write file: /tmp/x"},
		},
	})

	if session.PendingCount() != 2 {
		t.Errorf("expected 2 pending permissions, got %d", session.PendingCount())
	}
	end := session.TakeDeferredEnd()
	if end == nil {
		t.Fatalf("denials must set a deferred session end")
	}
	if end.Type != conversation.BlockSessionEnd {
		t.Errorf("deferred block must be a session end, got %s", end.Type)
	}
}

func TestDeriveTopic(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Fix the build", "Fix the build"},
		{"First line\nsecond line", "First line"},
		{"  padded  ", "padded"},
	}
	for _, tc := range cases {
		if got := deriveTopic(tc.in); got != tc.want {
			t.Errorf("deriveTopic(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	long := strings.Repeat("word ", 30)
	got := deriveTopic(long)
	if len(got) > topicMaxLen+3 {
		t.Errorf("long topic must truncate, got %d chars", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated topic must end with ellipsis: %q", got)
	}
}

func TestBuildUserFrame(t *testing.T) {
	frame, display := buildUserFrame("describe this", []conversation.Attachment{
		{Name: "shot.png", MediaType: "image/png", Data: "aGVsbG8="},
		{Name: "notes.pdf", MediaType: "application/pdf", Data: "eA=="},
	})

	var env userEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("frame is not valid JSON: %v", err)
	}
	if env.Type != "user" || env.Message.Role != "user" {
		t.Errorf("unexpected envelope shape: %+v", env)
	}

	var imageParts, textParts int
	for _, p := range env.Message.Content {
		switch p.Type {
		case "image":
			imageParts++
			if p.Source == nil || p.Source.MediaType != "image/png" {
				t.Errorf("image part malformed: %+v", p)
			}
		case "text":
			textParts++
			if !strings.Contains(p.Text, "[attachment: notes.pdf]") {
				t.Errorf("non-image attachment must be referenced in text: %q", p.Text)
			}
		}
	}
	if imageParts != 1 || textParts != 1 {
		t.Errorf("expected 1 image and 1 text part, got %d/%d", imageParts, textParts)
	}
	if !strings.Contains(display, "[attachment: notes.pdf]") {
		t.Errorf("display text must mention the attachment reference")
	}
}

func TestStderrTailBounded(t *testing.T) {
	tail := &stderrTail{limit: 16}
	for i := 0; i < 10; i++ {
		tail.append("0123456789")
	}
	if got := tail.String(); len(got) > 16 {
		t.Errorf("tail must stay bounded, got %d bytes", len(got))
	}
}
