package registry

import (
	"context"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/domain/conversation"
	"github.com/agentdeck/agentdeck/internal/translator"
)

// Session is the owned in-memory record for one conversation: the durable
// conversation row plus all runtime state (process handle, translator,
// pending permissions, withheld terminal block). At most one live subprocess
// exists per session at any time.
type Session struct {
	mu sync.RWMutex

	conv *conversation.Conversation
	xlat *translator.Translator

	// Process runtime state
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	cancel  context.CancelFunc
	pid     int
	procGen int  // generation counter so a stale exit handler cannot clean up a newer process
	closing bool // set by Close so the exit handler skips the status transition

	initialPrompt string
	watcherStop   func()

	// Pending permission denials, FIFO ordered for unspecified resolution
	pending      map[string]*conversation.PendingPermission
	pendingOrder []string
	deferredEnd  *conversation.ContentBlock
}

// NewSession wraps a conversation in a session record. replay marks the
// session as entering attach in replay phase (a resumption token exists).
func NewSession(conv *conversation.Conversation, replay bool) *Session {
	return &Session{
		conv:    conv,
		xlat:    translator.New(conv.ID, replay),
		pending: make(map[string]*conversation.PendingPermission),
	}
}

// Conversation returns the conversation record. Callers treat it as owned by
// the session and mutate it only through session methods.
func (s *Session) Conversation() *conversation.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conv
}

// Snapshot returns a copy of the conversation for safe external use.
func (s *Session) Snapshot() conversation.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.conv
}

// Translator returns the per-conversation protocol translator.
func (s *Session) Translator() *translator.Translator {
	return s.xlat
}

// SetStatus updates the conversation status and activity timestamps.
func (s *Session) SetStatus(status conversation.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv.Status = status
	s.conv.Touch()
}

// Status returns the current conversation status.
func (s *Session) Status() conversation.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conv.Status
}

// SetSessionID records the external resumption token. Returns true if the
// token changed.
func (s *Session) SetSessionID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" || s.conv.SessionID == id {
		return false
	}
	s.conv.SessionID = id
	s.conv.Touch()
	return true
}

// SetTopic sets the display topic. auto marks it as derived rather than
// user-supplied.
func (s *Session) SetTopic(topic string, auto bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv.Topic = topic
	s.conv.AutoTopic = auto
	s.conv.Touch()
}

// SetMode updates the interaction mode.
func (s *Session) SetMode(mode conversation.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv.Mode = mode
	s.conv.Touch()
}

// Process returns the live process handle, or nil.
func (s *Session) Process() *exec.Cmd {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cmd
}

// PID returns the live process id, or zero.
func (s *Session) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pid
}

// AttachProcess records a freshly spawned process and returns its generation.
func (s *Session) AttachProcess(cmd *exec.Cmd, stdin io.WriteCloser, cancel context.CancelFunc) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmd = cmd
	s.stdin = stdin
	s.cancel = cancel
	s.pid = cmd.Process.Pid
	s.closing = false
	s.procGen++
	return s.procGen
}

// ReleaseProcess clears process state if gen is still current. Returns true
// when the caller owned the current generation.
func (s *Session) ReleaseProcess(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.procGen != gen {
		return false
	}
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	s.cmd = nil
	s.stdin = nil
	s.cancel = nil
	s.pid = 0
	return true
}

// Stdin returns the subprocess input stream, or nil.
func (s *Session) Stdin() io.WriteCloser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stdin
}

// WriteLine writes one newline-terminated frame to the subprocess stdin.
// Serialized under the session lock so concurrent senders cannot interleave
// frames.
func (s *Session) WriteLine(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin == nil {
		return domain.ErrProcessNotRunning
	}
	if _, err := s.stdin.Write(data); err != nil {
		return err
	}
	_, err := s.stdin.Write([]byte{'\n'})
	return err
}

// Cancel invokes the process context cancel function, if any.
func (s *Session) Cancel() {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// MarkClosing flags the session so the exit handler knows the termination was
// caller-initiated.
func (s *Session) MarkClosing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
}

// IsClosing reports whether Close initiated the current termination.
func (s *Session) IsClosing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closing
}

// SetInitialPrompt queues a prompt to send once the subprocess settles.
func (s *Session) SetInitialPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialPrompt = prompt
}

// TakeInitialPrompt returns and clears the queued initial prompt.
func (s *Session) TakeInitialPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.initialPrompt
	s.initialPrompt = ""
	return p
}

// SetWatcherStop records the stop function of a per-conversation watcher.
func (s *Session) SetWatcherStop(stop func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watcherStop = stop
}

// StopWatcher stops the per-conversation watcher, if any.
func (s *Session) StopWatcher() {
	s.mu.Lock()
	stop := s.watcherStop
	s.watcherStop = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// AddPending records a permission denial awaiting a decision.
func (s *Session) AddPending(p *conversation.PendingPermission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pending[p.ToolUseID]; !exists {
		s.pendingOrder = append(s.pendingOrder, p.ToolUseID)
	}
	s.pending[p.ToolUseID] = p
}

// TakePending removes and returns the denial with the given tool-use id, or
// the oldest pending one when the id is empty. Returns nil if none match.
func (s *Session) TakePending(toolUseID string) *conversation.PendingPermission {
	s.mu.Lock()
	defer s.mu.Unlock()

	if toolUseID == "" {
		if len(s.pendingOrder) == 0 {
			return nil
		}
		toolUseID = s.pendingOrder[0]
	}

	p, ok := s.pending[toolUseID]
	if !ok {
		return nil
	}
	delete(s.pending, toolUseID)
	for i, id := range s.pendingOrder {
		if id == toolUseID {
			s.pendingOrder = append(s.pendingOrder[:i], s.pendingOrder[i+1:]...)
			break
		}
	}
	return p
}

// PendingCount returns the number of unresolved denials.
func (s *Session) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// PendingPermissions returns the unresolved denials in FIFO order.
func (s *Session) PendingPermissions() []*conversation.PendingPermission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*conversation.PendingPermission, 0, len(s.pendingOrder))
	for _, id := range s.pendingOrder {
		if p, ok := s.pending[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// SetDeferredEnd stores the terminal block withheld while denials are
// pending.
func (s *Session) SetDeferredEnd(block *conversation.ContentBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deferredEnd = block
}

// TakeDeferredEnd returns and clears the withheld terminal block.
func (s *Session) TakeDeferredEnd() *conversation.ContentBlock {
	s.mu.Lock()
	defer s.mu.Unlock()
	block := s.deferredEnd
	s.deferredEnd = nil
	return block
}

// ClearEphemeral releases all runtime structures: pending permissions,
// deferred end block, watcher. Called on close.
func (s *Session) ClearEphemeral() {
	s.StopWatcher()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[string]*conversation.PendingPermission)
	s.pendingOrder = nil
	s.deferredEnd = nil
	s.initialPrompt = ""
}

// TouchActivity bumps the conversation activity timestamp.
func (s *Session) TouchActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv.Touch()
}

// LastActivity returns the conversation's last activity time.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conv.LastActivity
}
