package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/agentdeck/agentdeck/internal/domain/conversation"
	"github.com/agentdeck/agentdeck/internal/supervisor"
)

func (s *Server) handleListConversations(w http.ResponseWriter, _ *http.Request) {
	sessions := s.registry.List()
	out := make([]conversation.Conversation, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, session.Snapshot())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": out})
}

type createConversationRequest struct {
	Tool           string `json:"tool"`
	ProjectPath    string `json:"projectPath"`
	Topic          string `json:"topic,omitempty"`
	Model          string `json:"model,omitempty"`
	Mode           string `json:"mode,omitempty"`
	PermissionMode string `json:"permissionMode,omitempty"`
	InitialPrompt  string `json:"initialPrompt,omitempty"`
	Attach         bool   `json:"attach,omitempty"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	session, err := s.supervisor.CreateConversation(supervisor.CreateRequest{
		Tool:           conversation.Tool(req.Tool),
		ProjectPath:    req.ProjectPath,
		Topic:          req.Topic,
		Model:          req.Model,
		Mode:           conversation.Mode(req.Mode),
		PermissionMode: req.PermissionMode,
		InitialPrompt:  req.InitialPrompt,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if req.Attach || req.InitialPrompt != "" {
		if err := s.supervisor.Attach(r.Context(), session.Snapshot().ID); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, session.Snapshot())
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	session, err := s.registry.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	blocks, err := s.store.LoadBlocks(id, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation": session.Snapshot(),
		"blocks":       blocks,
	})
}

type sendMessageRequest struct {
	Text        string                    `json:"text"`
	Attachments []conversation.Attachment `json:"attachments,omitempty"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}
	if err := s.supervisor.SendMessage(r.Context(), id, req.Text, req.Attachments); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

type answerQuestionRequest struct {
	ToolUseID string `json:"toolUseId"`
	Answer    string `json:"answer"`
}

func (s *Server) handleAnswerQuestion(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req answerQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ToolUseID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "toolUseId is required"})
		return
	}
	if err := s.supervisor.AnswerQuestion(id, req.ToolUseID, req.Answer); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "answered"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.supervisor.Cancel(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	if err := s.supervisor.Suspend(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "suspended"})
}

func (s *Server) handleCloseConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.supervisor.Close(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

type switchModeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleSwitchMode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req switchModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Mode == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "mode is required"})
		return
	}
	if err := s.supervisor.SwitchMode(r.Context(), id, conversation.Mode(req.Mode)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mode": req.Mode})
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := s.approvals.Pending(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pending": pending})
}

type resolveApprovalRequest struct {
	Approved  bool   `json:"approved"`
	ToolUseID string `json:"toolUseId,omitempty"`
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req resolveApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	resolved, err := s.approvals.Resolve(id, req.Approved, req.ToolUseID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resolved": resolved.ToolUseID,
		"approved": req.Approved,
	})
}

type createTerminalRequest struct {
	ConversationID string `json:"conversationId"`
	Cols           uint16 `json:"cols,omitempty"`
	Rows           uint16 `json:"rows,omitempty"`
}

func (s *Server) handleCreateTerminal(w http.ResponseWriter, r *http.Request) {
	var req createTerminalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConversationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "conversationId is required"})
		return
	}
	session, err := s.registry.Get(req.ConversationID)
	if err != nil {
		writeError(w, err)
		return
	}
	conv := session.Snapshot()

	term, err := s.terminals.Create(conv.ID, conv.ProjectPath, req.Cols, req.Rows)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":             term.ID,
		"conversationId": term.ConversationID,
	})
}

func (s *Server) handleCloseTerminal(w http.ResponseWriter, r *http.Request) {
	s.terminals.Close(mux.Vars(r)["id"])
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}
