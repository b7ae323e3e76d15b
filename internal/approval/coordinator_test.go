package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/domain/conversation"
	"github.com/agentdeck/agentdeck/internal/registry"
	"github.com/agentdeck/agentdeck/internal/testutil"
)

func newTestSetup(t *testing.T) (*Coordinator, *registry.Session, *testutil.BlockRecorder, *testutil.NotifierRecorder, string) {
	t.Helper()
	dir := t.TempDir()

	conv := conversation.New(conversation.ToolClaude, dir)
	session := registry.NewSession(conv, false)
	reg := registry.New(nil)
	reg.Add(session)

	bus := testutil.NewBlockRecorder()
	notifier := testutil.NewNotifierRecorder()
	c := New(reg, bus, notifier, 5*time.Second, 4096)
	return c, session, bus, notifier, dir
}

func addPending(session *registry.Session, toolUseID, toolName, input string) {
	session.AddPending(&conversation.PendingPermission{
		ToolUseID: toolUseID,
		ToolName:  toolName,
		ToolInput: json.RawMessage(input),
		Prompt:    fmt.Sprintf("Use %s tool", toolName),
		CreatedAt: time.Now().UTC(),
	})
}

func TestResolveUnknownConversation(t *testing.T) {
	c, _, _, _, _ := newTestSetup(t)
	_, err := c.Resolve("missing", true, "")
	if !errors.Is(err, domain.ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestResolveWithoutPending(t *testing.T) {
	c, session, _, _, _ := newTestSetup(t)
	_, err := c.Resolve(session.Snapshot().ID, true, "")
	if !errors.Is(err, domain.ErrNoPendingPermission) {
		t.Errorf("expected ErrNoPendingPermission, got %v", err)
	}
}

func TestApproveWriteExecutesAndNotifies(t *testing.T) {
	c, session, bus, notifier, dir := newTestSetup(t)
	convID := session.Snapshot().ID

	target := filepath.Join(dir, "out.txt")
	addPending(session, "toolu_w1", "Write",
		fmt.Sprintf(`{"file_path":%q,"content":"hello"}`, target))

	resolved, err := c.Resolve(convID, true, "toolu_w1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved.ToolUseID != "toolu_w1" {
		t.Errorf("unexpected resolved id %s", resolved.ToolUseID)
	}

	data, err := os.ReadFile(target)
	if err != nil || string(data) != "hello" {
		t.Errorf("approved write must hit disk: %v, %q", err, data)
	}

	results := bus.PublishedOfType(conversation.BlockToolResult)
	if len(results) != 1 {
		t.Fatalf("expected 1 tool result, got %d", len(results))
	}
	if results[0].IsError {
		t.Errorf("successful write must not be an error result: %s", results[0].Content)
	}
	if results[0].ID != "toolu_w1:result" {
		t.Errorf("result id must derive from the tool-use id, got %s", results[0].ID)
	}

	msgs := notifier.Messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "approved") {
		t.Errorf("expected an approval notification, got %v", msgs)
	}
}

func TestApproveEditReplacesString(t *testing.T) {
	c, session, bus, _, dir := newTestSetup(t)
	convID := session.Snapshot().ID

	target := filepath.Join(dir, "main.go")
	if err := os.WriteFile(target, []byte("package old\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	addPending(session, "toolu_e1", "Edit",
		fmt.Sprintf(`{"file_path":%q,"old_string":"old","new_string":"new"}`, target))

	if _, err := c.Resolve(convID, true, "toolu_e1"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	data, _ := os.ReadFile(target)
	if string(data) != "package new\n" {
		t.Errorf("edit not applied: %q", data)
	}
	results := bus.PublishedOfType(conversation.BlockToolResult)
	if len(results) != 1 || results[0].IsError {
		t.Errorf("expected a successful edit result")
	}
}

func TestApproveBashCapturesOutput(t *testing.T) {
	c, session, bus, _, _ := newTestSetup(t)
	convID := session.Snapshot().ID

	addPending(session, "toolu_b1", "Bash", `{"command":"echo approved-output"}`)

	if _, err := c.Resolve(convID, true, "toolu_b1"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	results := bus.PublishedOfType(conversation.BlockToolResult)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !strings.Contains(results[0].Content, "approved-output") {
		t.Errorf("command output not captured: %q", results[0].Content)
	}
}

func TestRejectProducesErrorResult(t *testing.T) {
	c, session, bus, notifier, _ := newTestSetup(t)
	convID := session.Snapshot().ID

	addPending(session, "toolu_r1", "Bash", `{"command":"rm -rf /"}`)

	if _, err := c.Resolve(convID, false, "toolu_r1"); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	results := bus.PublishedOfType(conversation.BlockToolResult)
	if len(results) != 1 || !results[0].IsError {
		t.Fatalf("rejection must surface as an error result")
	}
	if !strings.Contains(results[0].Content, "denied") {
		t.Errorf("unexpected rejection content: %q", results[0].Content)
	}
	msgs := notifier.Messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "denied") {
		t.Errorf("expected a denial notification, got %v", msgs)
	}
}

func TestResolveWithEmptyIDTakesOldest(t *testing.T) {
	c, session, _, _, _ := newTestSetup(t)
	convID := session.Snapshot().ID

	addPending(session, "toolu_first", "Bash", `{"command":"true"}`)
	addPending(session, "toolu_second", "Bash", `{"command":"true"}`)

	resolved, err := c.Resolve(convID, false, "")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved.ToolUseID != "toolu_first" {
		t.Errorf("empty id must resolve the oldest pending, got %s", resolved.ToolUseID)
	}
	if session.PendingCount() != 1 {
		t.Errorf("expected 1 pending left, got %d", session.PendingCount())
	}
}

func TestDeferredSessionEndReleasedAfterLastResolution(t *testing.T) {
	c, session, bus, _, _ := newTestSetup(t)
	convID := session.Snapshot().ID

	addPending(session, "toolu_1", "Bash", `{"command":"true"}`)
	addPending(session, "toolu_2", "Bash", `{"command":"true"}`)

	end := conversation.NewBlock(convID, conversation.BlockSessionEnd)
	session.SetDeferredEnd(end)

	if _, err := c.Resolve(convID, false, "toolu_1"); err != nil {
		t.Fatal(err)
	}
	if len(bus.PublishedOfType(conversation.BlockSessionEnd)) != 0 {
		t.Fatalf("session end must stay withheld while denials remain")
	}

	if _, err := c.Resolve(convID, false, "toolu_2"); err != nil {
		t.Fatal(err)
	}
	ends := bus.PublishedOfType(conversation.BlockSessionEnd)
	if len(ends) != 1 {
		t.Fatalf("session end must release after the last resolution, got %d", len(ends))
	}
	if ends[0].ID != end.ID {
		t.Errorf("the withheld block itself must be released")
	}
}

func TestExecuteUnknownToolFails(t *testing.T) {
	c, session, bus, _, _ := newTestSetup(t)
	convID := session.Snapshot().ID

	addPending(session, "toolu_u1", "WebFetch", `{"url":"https://example.com"}`)

	if _, err := c.Resolve(convID, true, "toolu_u1"); err != nil {
		t.Fatalf("resolve itself must not fail: %v", err)
	}
	results := bus.PublishedOfType(conversation.BlockToolResult)
	if len(results) != 1 || !results[0].IsError {
		t.Errorf("unexecutable tool must produce an error result")
	}
}

func TestEditRejectsAmbiguousMatch(t *testing.T) {
	c, session, bus, _, dir := newTestSetup(t)
	convID := session.Snapshot().ID

	target := filepath.Join(dir, "dup.txt")
	_ = os.WriteFile(target, []byte("aa aa"), 0o644)
	addPending(session, "toolu_e2", "Edit",
		fmt.Sprintf(`{"file_path":%q,"old_string":"aa","new_string":"bb"}`, target))

	if _, err := c.Resolve(convID, true, "toolu_e2"); err != nil {
		t.Fatal(err)
	}
	results := bus.PublishedOfType(conversation.BlockToolResult)
	if len(results) != 1 || !results[0].IsError {
		t.Fatalf("ambiguous edit must fail")
	}
	data, _ := os.ReadFile(target)
	if string(data) != "aa aa" {
		t.Errorf("file must be untouched on failure")
	}
}
