// Package supervisor drives the agent CLI subprocesses: spawning, stdin/stdout
// plumbing, translation dispatch, and the conversation lifecycle transitions
// that follow from process events.
package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentdeck/agentdeck/internal/adapters"
	"github.com/agentdeck/agentdeck/internal/domain"
	"github.com/agentdeck/agentdeck/internal/domain/conversation"
	"github.com/agentdeck/agentdeck/internal/domain/ports"
	"github.com/agentdeck/agentdeck/internal/registry"
	"github.com/agentdeck/agentdeck/internal/translator"
)

const (
	// maxScanTokenSize bounds one stdout line; consolidated messages with
	// large tool results can run long.
	maxScanTokenSize = 1024 * 1024

	// stderrTailSize is how much trailing stderr is kept for error reports.
	stderrTailSize = 4096

	// closeGrace is how long Close waits for a graceful exit before killing.
	closeGrace = 5 * time.Second

	// topicMaxLen truncates auto-derived topics.
	topicMaxLen = 60
)

// WatcherFactory starts a working-directory watcher for a conversation and
// returns its stop function. Optional.
type WatcherFactory func(conversationID, projectPath string) (func(), error)

// Options tunes supervisor behavior.
type Options struct {
	// SettleDelay is the pause before a queued initial prompt is written to a
	// freshly spawned subprocess.
	SettleDelay time.Duration
	// NewWatcher, when set, starts a file watcher per attached conversation.
	NewWatcher WatcherFactory
}

// CreateRequest carries the parameters for a new conversation.
type CreateRequest struct {
	Tool           conversation.Tool
	ProjectPath    string
	Topic          string
	Model          string
	Mode           conversation.Mode
	PermissionMode string
	InitialPrompt  string
}

// Supervisor owns subprocess lifecycles for all registered conversations.
type Supervisor struct {
	registry *registry.Registry
	adapters *adapters.Registry
	bus      ports.Publisher
	convs    ports.ConversationWriter
	opts     Options

	wg sync.WaitGroup
}

// New wires a supervisor.
func New(reg *registry.Registry, adapt *adapters.Registry, bus ports.Publisher, convs ports.ConversationWriter, opts Options) *Supervisor {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = 500 * time.Millisecond
	}
	return &Supervisor{
		registry: reg,
		adapters: adapt,
		bus:      bus,
		convs:    convs,
		opts:     opts,
	}
}

// CreateConversation validates the request, registers a session, and persists
// the conversation record. No subprocess is spawned until Attach.
func (s *Supervisor) CreateConversation(req CreateRequest) (*registry.Session, error) {
	adapter, err := s.adapters.Lookup(req.Tool)
	if err != nil {
		return nil, err
	}
	if _, err := adapter.Executable(); err != nil {
		return nil, err
	}
	if req.ProjectPath == "" {
		return nil, fmt.Errorf("project path is required")
	}
	if info, err := os.Stat(req.ProjectPath); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("project path is not a directory: %s", req.ProjectPath)
	}

	conv := conversation.New(req.Tool, req.ProjectPath)
	conv.Topic = req.Topic
	conv.Model = req.Model
	conv.PermissionMode = req.PermissionMode
	if req.Mode != "" {
		conv.Mode = req.Mode
	}

	session := registry.NewSession(conv, false)
	if req.InitialPrompt != "" {
		session.SetInitialPrompt(req.InitialPrompt)
	}
	s.registry.Add(session)

	if err := s.convs.SaveConversation(conv); err != nil {
		return nil, &domain.PersistenceError{Op: "create conversation", Err: err}
	}

	log.Info().
		Str("conversation_id", conv.ID).
		Str("tool", string(conv.Tool)).
		Str("project_path", conv.ProjectPath).
		Msg("conversation created")
	return session, nil
}

// Attach spawns the subprocess for a conversation if none is running.
// Idempotent: attaching to a running conversation is a no-op. A conversation
// with a resumption token is resumed with its prior context, entering replay
// phase until the first fresh user message.
func (s *Supervisor) Attach(ctx context.Context, conversationID string) error {
	session, err := s.registry.Get(conversationID)
	if err != nil {
		return err
	}
	if session.Process() != nil {
		return nil
	}
	if session.Status() == conversation.StatusEnded {
		return domain.ErrProcessNotRunning
	}

	conv := session.Snapshot()
	adapter, err := s.adapters.Lookup(conv.Tool)
	if err != nil {
		return err
	}
	executable, err := adapter.Executable()
	if err != nil {
		return domain.NewSpawnError(string(conv.Tool), err)
	}

	args := adapter.BuildArgs(ports.SpawnOptions{
		Mode:           conv.Mode,
		Model:          conv.Model,
		PermissionMode: conv.PermissionMode,
		ResumeToken:    conv.SessionID,
	})

	procCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := exec.CommandContext(procCtx, executable, args...)
	cmd.Dir = conv.ProjectPath
	cmd.Env = adapter.Environ(os.Environ())
	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return domain.NewSpawnError(string(conv.Tool), err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return domain.NewSpawnError(string(conv.Tool), err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return domain.NewSpawnError(string(conv.Tool), err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return domain.NewSpawnError(string(conv.Tool), err)
	}

	gen := session.AttachProcess(cmd, stdin, cancel)
	if conv.SessionID != "" {
		// The resumed subprocess re-emits prior turns before fresh input.
		session.Translator().StartReplay()
	}
	session.SetStatus(conversation.StatusRunning)
	s.persist(session)

	log.Info().
		Str("conversation_id", conv.ID).
		Str("tool", string(conv.Tool)).
		Int("pid", cmd.Process.Pid).
		Bool("resume", conv.SessionID != "").
		Msg("subprocess attached")

	if s.opts.NewWatcher != nil {
		if stop, err := s.opts.NewWatcher(conv.ID, conv.ProjectPath); err != nil {
			log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("watcher start failed")
		} else {
			session.SetWatcherStop(stop)
		}
	}

	tail := &stderrTail{limit: stderrTailSize}

	s.wg.Add(2)
	go s.pumpStdout(session, stdout)
	go s.pumpStderr(session, stderr, tail)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := cmd.Wait()
		s.handleExit(session, gen, err, cmd, tail)
	}()

	if prompt := session.TakeInitialPrompt(); prompt != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			time.Sleep(s.opts.SettleDelay)
			if err := s.sendUserMessage(session, prompt, nil); err != nil {
				log.Warn().Err(err).
					Str("conversation_id", conv.ID).
					Msg("initial prompt delivery failed")
			}
		}()
	}

	return nil
}

// pumpStdout reads NDJSON lines and dispatches translation results.
func (s *Supervisor) pumpStdout(session *registry.Session, r io.Reader) {
	defer s.wg.Done()

	conv := session.Snapshot()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxScanTokenSize)

	for scanner.Scan() {
		res := session.Translator().Translate(scanner.Bytes())
		s.dispatch(session, res)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		log.Debug().Err(err).Str("conversation_id", conv.ID).Msg("stdout pump stopped")
	}
}

// pumpStderr surfaces stderr lines as error blocks, leaving the conversation
// status untouched, and retains a bounded tail for the exit report.
func (s *Supervisor) pumpStderr(session *registry.Session, r io.Reader, tail *stderrTail) {
	defer s.wg.Done()

	conv := session.Snapshot()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 16*1024), maxScanTokenSize)

	for scanner.Scan() {
		line := scanner.Text()
		tail.append(line)
		log.Debug().
			Str("conversation_id", conv.ID).
			Str("stderr", line).
			Msg("subprocess stderr")

		block := conversation.NewBlock(conv.ID, conversation.BlockError)
		block.IsError = true
		block.Content = line
		s.bus.Publish(block)
	}
}

// dispatch routes one translation result onto the bus and updates session
// state for resumption tokens, pending denials, and deferred session ends.
func (s *Supervisor) dispatch(session *registry.Session, res translator.Result) {
	if res.SessionID != "" && session.SetSessionID(res.SessionID) {
		s.persist(session)
	}

	for _, block := range res.RecordOnly {
		s.bus.Record(block)
	}
	for _, block := range res.LiveOnly {
		s.bus.PublishEphemeral(block)
	}
	for _, block := range res.Blocks {
		s.bus.Publish(block)
	}

	if len(res.Denials) > 0 {
		for _, d := range res.Denials {
			session.AddPending(&conversation.PendingPermission{
				ToolUseID: d.ToolUseID,
				ToolName:  d.ToolName,
				ToolInput: d.ToolInput,
				Prompt:    d.Prompt,
				CreatedAt: time.Now().UTC(),
			})
		}
		// The terminal block is withheld until the last denial resolves.
		conv := session.Snapshot()
		end := conversation.NewBlock(conv.ID, conversation.BlockSessionEnd)
		end.WithMeta("isTurnComplete", true)
		end.WithMeta("deferred", true)
		session.SetDeferredEnd(end)

		log.Info().
			Str("conversation_id", conv.ID).
			Int("denials", len(res.Denials)).
			Msg("turn ended with pending approvals")
	}

	if res.TurnComplete || len(res.Blocks) > 0 {
		session.TouchActivity()
	}
	if res.TurnComplete {
		s.persist(session)
	}
}

// handleExit runs when the subprocess terminates for any reason.
func (s *Supervisor) handleExit(session *registry.Session, gen int, waitErr error, cmd *exec.Cmd, tail *stderrTail) {
	if !session.ReleaseProcess(gen) {
		return
	}
	session.StopWatcher()

	conv := session.Snapshot()
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	log.Info().
		Str("conversation_id", conv.ID).
		Int("exit_code", exitCode).
		Bool("closing", session.IsClosing()).
		Msg("subprocess exited")

	if session.IsClosing() {
		// Close owns the lifecycle transition.
		return
	}

	if exitCode != 0 && waitErr != nil {
		block := conversation.NewBlock(conv.ID, conversation.BlockError)
		block.IsError = true
		block.Content = fmt.Sprintf("agent process exited unexpectedly (code %d)", exitCode)
		if t := tail.String(); t != "" {
			block.WithMeta("stderr", t)
		}
		s.bus.Publish(block)
		session.SetStatus(conversation.StatusError)
	} else {
		session.SetStatus(conversation.StatusEnded)
	}

	end := conversation.NewBlock(conv.ID, conversation.BlockSessionEnd)
	end.WithMeta("exitCode", exitCode)
	end.IsError = exitCode != 0
	s.bus.Publish(end)

	s.persist(session)
}

// SendMessage delivers a user message to a conversation's subprocess,
// attaching first if necessary. The message is surfaced to subscribers as a
// user text block, ends any replay phase, and derives a topic for untitled
// conversations.
func (s *Supervisor) SendMessage(ctx context.Context, conversationID, text string, attachments []conversation.Attachment) error {
	session, err := s.registry.Get(conversationID)
	if err != nil {
		return err
	}
	if session.Process() == nil {
		if err := s.Attach(ctx, conversationID); err != nil {
			return err
		}
	}
	return s.sendUserMessage(session, text, attachments)
}

func (s *Supervisor) sendUserMessage(session *registry.Session, text string, attachments []conversation.Attachment) error {
	conv := session.Snapshot()

	frame, displayText := buildUserFrame(text, attachments)
	if err := session.WriteLine(frame); err != nil {
		return err
	}

	// A fresh user message proves the subprocess has caught up with history.
	session.Translator().EndReplay()

	block := conversation.NewBlock(conv.ID, conversation.BlockText)
	block.Role = "user"
	block.Content = displayText
	s.bus.Publish(block)

	if conv.Topic == "" || conv.AutoTopic {
		if topic := deriveTopic(text); topic != "" && topic != conv.Topic {
			session.SetTopic(topic, true)
			s.persist(session)

			update := conversation.NewBlock(conv.ID, conversation.BlockTopicUpdated)
			update.Content = topic
			s.bus.Publish(update)
		}
	}

	session.TouchActivity()
	s.persist(session)
	return nil
}

// AnswerQuestion responds to a structured question from the agent. The answer
// is written as a tool result referencing the question's tool-use id and a
// question_answered block is surfaced so subscribers can collapse the prompt.
func (s *Supervisor) AnswerQuestion(conversationID, toolUseID, answer string) error {
	session, err := s.registry.Get(conversationID)
	if err != nil {
		return err
	}

	frame, err := json.Marshal(userEnvelope{
		Type: "user",
		Message: userMessage{
			Role: "user",
			Content: []contentPart{{
				Type:      "tool_result",
				ToolUseID: toolUseID,
				Content:   answer,
			}},
		},
	})
	if err != nil {
		return err
	}
	if err := session.WriteLine(frame); err != nil {
		return err
	}

	session.Translator().EndReplay()

	conv := session.Snapshot()
	block := conversation.NewBlock(conv.ID, conversation.BlockQuestionAnswered)
	block.ID = toolUseID + ":answered"
	block.ToolID = toolUseID
	block.Role = "user"
	block.Content = answer
	s.bus.Publish(block)

	session.TouchActivity()
	s.persist(session)
	return nil
}

// NotifySubprocess writes synthetic text input to the subprocess without
// surfacing a user block. Used by the approval workflow to report externally
// executed tool outcomes back to the agent.
func (s *Supervisor) NotifySubprocess(conversationID, text string) error {
	session, err := s.registry.Get(conversationID)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(userEnvelope{
		Type: "user",
		Message: userMessage{
			Role:    "user",
			Content: []contentPart{{Type: "text", Text: text}},
		},
	})
	if err != nil {
		return err
	}
	return session.WriteLine(frame)
}

// Cancel interrupts the current turn without terminating the conversation.
func (s *Supervisor) Cancel(conversationID string) error {
	session, err := s.registry.Get(conversationID)
	if err != nil {
		return err
	}
	cmd := session.Process()
	if cmd == nil {
		return domain.ErrProcessNotRunning
	}
	if err := interruptProcess(cmd); err != nil {
		return domain.NewToolExecutionError("cancel", err.Error())
	}

	conv := session.Snapshot()
	block := conversation.NewBlock(conv.ID, conversation.BlockSystem)
	block.Content = "cancelled"
	block.WithMeta("event", "cancelled")
	s.bus.Publish(block)

	log.Info().Str("conversation_id", conv.ID).Msg("turn cancelled")
	return nil
}

// Close terminates a conversation permanently: the subprocess is stopped, the
// conversation transitions to ended, and all ephemeral state is released.
func (s *Supervisor) Close(conversationID string) error {
	session, err := s.registry.Get(conversationID)
	if err != nil {
		return err
	}

	s.stopProcess(session)

	session.SetStatus(conversation.StatusEnded)
	s.persist(session)

	conv := session.Snapshot()
	end := conversation.NewBlock(conv.ID, conversation.BlockSessionEnd)
	end.WithMeta("reason", "closed")
	s.bus.Publish(end)

	session.ClearEphemeral()
	if dropper, ok := s.bus.(interface{ DropConversation(string) }); ok {
		dropper.DropConversation(conv.ID)
	}
	s.registry.Remove(conv.ID)

	log.Info().Str("conversation_id", conv.ID).Msg("conversation closed")
	return nil
}

// Suspend stops the subprocess but keeps the conversation resumable.
func (s *Supervisor) Suspend(conversationID string) error {
	session, err := s.registry.Get(conversationID)
	if err != nil {
		return err
	}
	if session.Process() == nil {
		return nil
	}
	s.stopProcess(session)
	session.SetStatus(conversation.StatusSuspended)
	s.persist(session)

	log.Info().Str("conversation_id", conversationID).Msg("conversation suspended")
	return nil
}

// SwitchMode changes the interaction mode. A running subprocess is restarted
// with the new mode's arguments; its context survives through the resumption
// token.
func (s *Supervisor) SwitchMode(ctx context.Context, conversationID string, mode conversation.Mode) error {
	session, err := s.registry.Get(conversationID)
	if err != nil {
		return err
	}
	conv := session.Snapshot()
	if conv.Mode == mode {
		return nil
	}

	wasRunning := session.Process() != nil
	if wasRunning {
		s.stopProcess(session)
		session.SetStatus(conversation.StatusSuspended)
	}

	session.SetMode(mode)
	s.persist(session)

	block := conversation.NewBlock(conv.ID, conversation.BlockSystem)
	block.Content = fmt.Sprintf("mode changed to %s", mode)
	block.WithMeta("event", "mode_changed")
	block.WithMeta("mode", string(mode))
	s.bus.Publish(block)

	if wasRunning {
		return s.Attach(ctx, conversationID)
	}
	return nil
}

// Shutdown suspends every running conversation so the store reflects
// resumable state, then waits for the pump goroutines to drain.
func (s *Supervisor) Shutdown(ctx context.Context) {
	for _, session := range s.registry.List() {
		if session.Process() == nil {
			continue
		}
		conv := session.Snapshot()
		s.stopProcess(session)
		session.SetStatus(conversation.StatusSuspended)
		s.persist(session)
		log.Info().Str("conversation_id", conv.ID).Msg("conversation suspended for shutdown")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// stopProcess terminates the subprocess gracefully, escalating to a kill
// after the grace period. Blocks until the process is gone.
func (s *Supervisor) stopProcess(session *registry.Session) {
	cmd := session.Process()
	if cmd == nil {
		return
	}
	session.MarkClosing()

	if err := terminateProcess(cmd); err != nil {
		session.Cancel()
		return
	}

	deadline := time.After(closeGrace)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			session.Cancel()
			return
		case <-tick.C:
			if session.Process() == nil {
				return
			}
		}
	}
}

func (s *Supervisor) persist(session *registry.Session) {
	conv := session.Snapshot()
	if err := s.convs.SaveConversation(&conv); err != nil {
		log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("conversation persist failed")
	}
}

// userEnvelope is the stdin frame shape the agent CLIs accept in
// stream-json input mode.
type userEnvelope struct {
	Type    string      `json:"type"`
	Message userMessage `json:"message"`
}

type userMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type      string       `json:"type"`
	Text      string       `json:"text,omitempty"`
	Source    *imageSource `json:"source,omitempty"`
	ToolUseID string       `json:"tool_use_id,omitempty"`
	Content   string       `json:"content,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// buildUserFrame encodes a user message with attachments. Image attachments
// become inline base64 parts; other attachments are referenced by name in the
// text. Returns the frame and the text surfaced to subscribers.
func buildUserFrame(text string, attachments []conversation.Attachment) ([]byte, string) {
	display := text
	var parts []contentPart

	for _, a := range attachments {
		if a.IsImage() {
			parts = append(parts, contentPart{
				Type: "image",
				Source: &imageSource{
					Type:      "base64",
					MediaType: a.MediaType,
					Data:      a.Data,
				},
			})
		} else {
			ref := fmt.Sprintf("[attachment: %s]", a.Name)
			text = text + "\n" + ref
			display = display + "\n" + ref
		}
	}
	parts = append(parts, contentPart{Type: "text", Text: text})

	frame, _ := json.Marshal(userEnvelope{
		Type:    "user",
		Message: userMessage{Role: "user", Content: parts},
	})
	return frame, display
}

// deriveTopic produces a display topic from the first line of a message.
func deriveTopic(text string) string {
	line := strings.TrimSpace(text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if len(line) > topicMaxLen {
		cut := strings.LastIndexByte(line[:topicMaxLen], ' ')
		if cut < topicMaxLen/2 {
			cut = topicMaxLen
		}
		line = strings.TrimSpace(line[:cut]) + "..."
	}
	return line
}

// stderrTail retains the last chunk of subprocess stderr.
type stderrTail struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *stderrTail) append(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
}

func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
