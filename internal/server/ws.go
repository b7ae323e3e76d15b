package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/agentdeck/agentdeck/internal/domain/conversation"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsSendBacklog  = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The engine serves local and tunneled clients; auth lives in front of it.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleConversationStream subscribes the WebSocket client to a
// conversation's block stream. Buffered history replays first, then live
// blocks follow as they happen.
func (s *Server) handleConversationStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.registry.Get(id); err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	send := make(chan *conversation.ContentBlock, wsSendBacklog)
	unsubscribe := s.bus.Subscribe(id, func(block *conversation.ContentBlock) {
		select {
		case send <- block:
		default:
			log.Warn().
				Str("conversation_id", id).
				Str("block_id", block.ID).
				Msg("slow websocket subscriber, dropping block")
		}
	})
	defer unsubscribe()
	defer conn.Close()

	// Reader: consume control frames and detect disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case block := <-send:
			data, err := json.Marshal(block)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type terminalControl struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
}

// handleTerminalStream bridges a WebSocket to a PTY session: binary frames
// carry raw bytes both ways, text frames carry control messages (resize).
func (s *Server) handleTerminalStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	term, ok := s.terminals.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "terminal session not found"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// PTY output -> client
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 8192)
		for {
			n, err := term.File().Read(buf)
			if n > 0 {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	// Client -> PTY input and control
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		term.Touch()
		switch msgType {
		case websocket.BinaryMessage:
			if _, err := term.Write(data); err != nil {
				log.Debug().Err(err).Str("terminal_id", id).Msg("terminal write failed")
			}
		case websocket.TextMessage:
			var ctl terminalControl
			if json.Unmarshal(data, &ctl) == nil && ctl.Type == "resize" {
				if err := term.Resize(ctl.Cols, ctl.Rows); err != nil {
					log.Debug().Err(err).Str("terminal_id", id).Msg("terminal resize failed")
				}
			}
		}
	}
	<-done
}
