// Package terminal manages a bounded pool of ephemeral PTY shell sessions
// attached to conversation working directories.
package terminal

import (
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/agentdeck/agentdeck/internal/domain"
)

// Options tunes the pool.
type Options struct {
	Shell       string
	MaxSessions int
	IdleTimeout time.Duration
}

// Session is one live PTY shell.
type Session struct {
	ID             string
	ConversationID string
	CreatedAt      time.Time

	mu       sync.Mutex
	ptmx     *os.File
	cmd      *exec.Cmd
	lastUsed time.Time
	closed   bool
}

// File returns the PTY master for raw byte streaming.
func (s *Session) File() *os.File {
	return s.ptmx
}

// Write sends input to the shell and bumps the idle timer.
func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, domain.ErrSessionPoolClosed
	}
	s.lastUsed = time.Now()
	s.mu.Unlock()
	return s.ptmx.Write(p)
}

// Resize adjusts the PTY window.
func (s *Session) Resize(cols, rows uint16) error {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
	return pty.Setsize(s.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Touch bumps the idle timer without input.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.ptmx.Close()
	if s.cmd != nil {
		_, _ = s.cmd.Process.Wait()
	}
}

// Pool holds the live terminal sessions under a ceiling with idle reaping.
type Pool struct {
	logger *slog.Logger
	opts   Options

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	done     chan struct{}
}

// NewPool creates a pool and starts its idle reaper.
func NewPool(logger *slog.Logger, opts Options) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Shell == "" {
		opts.Shell = defaultShell()
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 8
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Minute
	}

	p := &Pool{
		logger:   logger,
		opts:     opts,
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

// Create spawns a new shell session rooted at dir. When the pool is at its
// ceiling the oldest session is evicted first.
func (p *Pool) Create(conversationID, dir string, cols, rows uint16) (*Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, domain.ErrSessionPoolClosed
	}
	var oldest *Session
	if len(p.sessions) >= p.opts.MaxSessions {
		for _, s := range p.sessions {
			if oldest == nil || s.CreatedAt.Before(oldest.CreatedAt) {
				oldest = s
			}
		}
		if oldest != nil {
			delete(p.sessions, oldest.ID)
		}
	}
	p.mu.Unlock()

	if oldest != nil {
		p.logger.Info("evicting oldest terminal session",
			"session_id", oldest.ID, "created_at", oldest.CreatedAt)
		oldest.close()
	}

	cmd := exec.Command(p.opts.Shell)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s := &Session{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		CreatedAt:      now,
		ptmx:           ptmx,
		cmd:            cmd,
		lastUsed:       now,
	}

	p.mu.Lock()
	p.sessions[s.ID] = s
	p.mu.Unlock()

	p.logger.Info("terminal session created",
		"session_id", s.ID, "conversation_id", conversationID, "shell", p.opts.Shell)
	return s, nil
}

// Get returns a session by id.
func (p *Pool) Get(id string) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	return s, ok
}

// Close terminates one session.
func (p *Pool) Close(id string) {
	p.mu.Lock()
	s := p.sessions[id]
	delete(p.sessions, id)
	p.mu.Unlock()
	if s != nil {
		s.close()
		p.logger.Info("terminal session closed", "session_id", id)
	}
}

// Count returns the number of live sessions.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Shutdown terminates all sessions and stops the reaper.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.sessions = make(map[string]*Session)
	p.mu.Unlock()

	close(p.done)
	for _, s := range sessions {
		s.close()
	}
}

// reapLoop closes sessions that sat idle past the timeout.
func (p *Pool) reapLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-p.opts.IdleTimeout)
			p.mu.Lock()
			var idle []*Session
			for id, s := range p.sessions {
				if s.idleSince().Before(cutoff) {
					idle = append(idle, s)
					delete(p.sessions, id)
				}
			}
			p.mu.Unlock()
			for _, s := range idle {
				p.logger.Info("reaping idle terminal session", "session_id", s.ID)
				s.close()
			}
		}
	}
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/bash"
}
