package webchat

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/ruminate/pkg/reasoning"
)

const maxThinkBody = 1 << 20

type thinkRequest struct {
	RequesterID string `json:"requester_id"`
	Prompt      string `json:"prompt"`
}

type thinkResponse struct {
	Status      string `json:"status"`
	RunID       string `json:"run_id,omitempty"`
	RequesterID string `json:"requester_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleThink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body thinkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxThinkBody)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, thinkResponse{Status: "rejected", Error: "bad request"})
		return
	}

	h, err := s.svc.Submit(r.Context(), reasoning.SubmitRequest{
		RequesterID: body.RequesterID,
		Prompt:      body.Prompt,
		Sink:        s.sink,
	})
	switch {
	case errors.Is(err, reasoning.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, thinkResponse{Status: "rejected", RequesterID: body.RequesterID, Error: err.Error()})
		return
	case errors.Is(err, reasoning.ErrEmptyRequester), errors.Is(err, reasoning.ErrEmptyPrompt):
		writeJSON(w, http.StatusBadRequest, thinkResponse{Status: "rejected", Error: err.Error()})
		return
	case err != nil:
		log.Error().Err(err).Str("component", "webchat").Msg("submit failed")
		writeJSON(w, http.StatusInternalServerError, thinkResponse{Status: "rejected", Error: "internal error"})
		return
	}

	log.Info().Str("component", "webchat").Str("run_id", h.RunID).Str("requester_id", h.RequesterID).Msg("run accepted")
	writeJSON(w, http.StatusAccepted, thinkResponse{Status: "accepted", RunID: h.RunID, RequesterID: h.RequesterID})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	requesterID := strings.TrimSpace(r.URL.Query().Get("requester_id"))
	if requesterID == "" {
		http.Error(w, "missing requester_id", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.hub.Attach(requesterID, conn)

	// reader loop: keeps the connection alive and notices when the client leaves
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		mt, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if mt == websocket.TextMessage {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		}
	}
	s.hub.Detach(requesterID, conn)
}

const pongWait = 120 * time.Second

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": s.svc.Guard().Active()})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.runs == nil {
		http.Error(w, "run ledger not enabled", http.StatusNotFound)
		return
	}
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	recs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Str("component", "webchat").Msg("list runs failed")
		http.Error(w, "list runs failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": recs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Str("component", "webchat").Msg("write response failed")
	}
}
