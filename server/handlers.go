package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/chronomap/chronomap/agent/contract"
	nodex "github.com/chronomap/chronomap/agent/nodes"
)

type pinsRequest struct {
	DateRange *contractx.DateRange `json:"date_range"`
	// Date is the single-day shorthand older clients send.
	Date     string             `json:"date"`
	Viewport contractx.Viewport `json:"viewport"`
	Language string             `json:"language"`
	MaxPins  int                `json:"max_pins"`
}

type chatRequest struct {
	Question  string `json:"question"`
	Language  string `json:"language"`
	SessionID string `json:"session_id"`
}

type parseCommandRequest struct {
	Text string `json:"text"`
}

type parseCommandResponse struct {
	Location  *contractx.Location  `json:"location"`
	Language  string               `json:"language,omitempty"`
	DateRange *contractx.DateRange `json:"date_range"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) handleGeneratePins(w http.ResponseWriter, r *http.Request) {
	var req pinsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	dateRange := contractx.DateRange{}
	switch {
	case req.DateRange != nil:
		dateRange = *req.DateRange
	case req.Date != "":
		dateRange = contractx.DateRange{Start: req.Date, End: req.Date}
	default:
		respondError(w, http.StatusBadRequest, "date_range is required")
		return
	}

	result, err := s.engine.GeneratePins(r.Context(), nodex.PinsRequest{
		DateRange: dateRange,
		Viewport:  req.Viewport,
		Language:  req.Language,
		MaxPins:   req.MaxPins,
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleExplainStream(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event_id")
	language := r.URL.Query().Get("language")

	narration, err := s.engine.ExplainEvent(r.Context(), eventID, language)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	streamNarration(w, r, narration)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event_id")

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		respondError(w, http.StatusBadRequest, "question is required")
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		// Conversations default to one thread per event.
		sessionID = eventID
	}

	narration, err := s.engine.AnswerQuestion(r.Context(), eventID, sessionID, req.Question, req.Language)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	streamNarration(w, r, narration)
}

func (s *Server) handleParseCommand(w http.ResponseWriter, r *http.Request) {
	var req parseCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	cmd, err := s.engine.ParseCommand(r.Context(), req.Text)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, parseCommandResponse{
		Location:  cmd.Location,
		Language:  cmd.Language,
		DateRange: cmd.DateRange,
	})
}

func (s *Server) handleRandomEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.engine.RandomEvent(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ev)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, errorResponse{Detail: detail})
}

// respondEngineError maps the error taxonomy onto HTTP statuses: malformed
// input and plans are the caller's fault, everything else is ours.
func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, contractx.ErrValidation), errors.Is(err, contractx.ErrConstruction):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
