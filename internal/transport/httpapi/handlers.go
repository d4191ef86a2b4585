package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sandevgo/recap/internal/core"
	"github.com/sandevgo/recap/internal/service"
	"github.com/sandevgo/recap/pkg/log"
)

type handler struct {
	ingestor   *service.Ingestor
	contexts   *service.ContextService
	summarizer *service.Summarizer
}

type messageInput struct {
	Author    string            `json:"author"`
	Content   string            `json:"content"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (m messageInput) toMessage() core.Message {
	return core.Message{
		Author:    m.Author,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		Metadata:  m.Metadata,
	}
}

func toMessages(in []messageInput) []core.Message {
	out := make([]core.Message, 0, len(in))
	for _, m := range in {
		out = append(out, m.toMessage())
	}
	return out
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) createConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID string         `json:"conversation_id"`
		Messages       []messageInput `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &core.IngestionError{Err: err})
		return
	}

	id, err := h.ingestor.CreateConversation(r.Context(), req.ConversationID, toMessages(req.Messages))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"conversation_id": id,
		"message_count":   len(req.Messages),
	})
}

func (h *handler) listConversations(w http.ResponseWriter, r *http.Request) {
	ids, err := h.ingestor.ListConversations(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": ids})
}

func (h *handler) addMessages(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []messageInput `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &core.IngestionError{Err: err})
		return
	}

	ids, err := h.ingestor.AddMessages(r.Context(), chi.URLParam(r, "id"), toMessages(req.Messages))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"message_ids": ids})
}

func (h *handler) getContext(w http.ResponseWriter, r *http.Request) {
	res, err := h.contexts.GetContext(
		r.Context(),
		chi.URLParam(r, "id"),
		r.URL.Query().Get("query"),
		parseBool(r.URL.Query().Get("force_refresh")),
	)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) getSummary(w http.ResponseWriter, r *http.Request) {
	summary, cached, err := h.summarizer.GetOrCreateSummary(
		r.Context(),
		chi.URLParam(r, "id"),
		r.URL.Query().Get("query"),
		parseBool(r.URL.Query().Get("force_refresh")),
	)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"summary":     summary.Content,
		"token_count": summary.TokenCount,
		"used_cache":  cached,
	})
}

func (h *handler) draft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID string `json:"conversation_id"`
		Text           string `json:"text"`
		AsUser         string `json:"as_user"`
		Message        string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &core.IngestionError{Err: err})
		return
	}

	if req.AsUser == "" || req.Message == "" {
		writeError(w, r, &core.IngestionError{Err: errors.New("as_user and message are required")})
		return
	}

	var draft string
	var err error
	switch {
	case req.ConversationID != "":
		draft, err = h.summarizer.DraftResponse(r.Context(), req.ConversationID, req.AsUser, req.Message)
	case req.Text != "":
		draft, err = h.summarizer.DraftFromText(r.Context(), req.Text, req.AsUser, req.Message)
	default:
		err = &core.IngestionError{Err: errors.New("either conversation_id or text is required")}
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"draft": draft})
}

func parseBool(s string) bool {
	return s == "1" || s == "true"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	var ingErr *core.IngestionError
	switch {
	case errors.Is(err, core.ErrConversationNotFound):
		status = http.StatusNotFound
	case errors.As(err, &ingErr):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		log.FromCtx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
