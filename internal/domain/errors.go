// Package domain contains domain errors used throughout the application.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	ErrUnsupportedTool      = errors.New("unsupported agent tool")
	ErrExecutableNotFound   = errors.New("agent tool executable not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrProcessNotRunning    = errors.New("no live process for conversation")
	ErrProcessRunning       = errors.New("process is already running")
	ErrNoPendingPermission  = errors.New("no pending permission for conversation")
	ErrSessionPoolClosed    = errors.New("terminal session pool is closed")
)

// Error codes for client responses.
const (
	ErrCodeUnsupportedTool      = "UNSUPPORTED_TOOL"
	ErrCodeExecutableNotFound   = "EXECUTABLE_NOT_FOUND"
	ErrCodeConversationNotFound = "CONVERSATION_NOT_FOUND"
	ErrCodeProcessNotRunning    = "PROCESS_NOT_RUNNING"
	ErrCodeProcessRunning       = "PROCESS_RUNNING"
	ErrCodeNoPendingPermission  = "NO_PENDING_PERMISSION"
	ErrCodeSpawnFailed          = "SPAWN_FAILED"
	ErrCodeToolExecutionFailed  = "TOOL_EXECUTION_FAILED"
	ErrCodeInternalError        = "INTERNAL_ERROR"
)

// SpawnError reports a failure to start an agent subprocess.
type SpawnError struct {
	Tool string // Agent tool identifier
	Err  error  // Underlying error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Tool, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// NewSpawnError creates a new SpawnError.
func NewSpawnError(tool string, err error) *SpawnError {
	return &SpawnError{Tool: tool, Err: err}
}

// ToolExecutionError reports a failure while directly executing an approved
// tool action (write-file, edit-file, shell command).
type ToolExecutionError struct {
	Action string // Tool name, e.g. "Write", "Edit", "Bash"
	Reason string // Human-readable reason
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Action, e.Reason)
}

// NewToolExecutionError creates a new ToolExecutionError.
func NewToolExecutionError(action, reason string) *ToolExecutionError {
	return &ToolExecutionError{Action: action, Reason: reason}
}

// PersistenceError wraps a storage failure. These are always non-fatal: callers
// log them and continue so the interactive path is never blocked by storage.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
