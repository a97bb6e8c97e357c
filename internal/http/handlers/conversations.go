package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinicdesk/internal/conversation"
	"github.com/wolfman30/clinicdesk/internal/http/middleware"
	"github.com/wolfman30/clinicdesk/pkg/logging"
)

const defaultManualTagNotes = "Marcada como urgente manualmente"

type urgencyTagger interface {
	SetUrgencyTag(ctx context.Context, conversationID uuid.UUID, notes, taggedBy string) error
	ClearUrgencyTag(ctx context.Context, conversationID uuid.UUID, actor string) error
}

type conversationAnalyzer interface {
	Reanalyze(ctx context.Context, conversationID uuid.UUID) (conversation.Analysis, error)
}

// ConversationsHandler serves the admin conversation API.
type ConversationsHandler struct {
	store    conversation.ReadStore
	tagger   urgencyTagger
	analyzer conversationAnalyzer
	logger   *logging.Logger
}

func NewConversationsHandler(store conversation.Repository, analyzer conversationAnalyzer, logger *logging.Logger) *ConversationsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ConversationsHandler{store: store, tagger: store, analyzer: analyzer, logger: logger}
}

// ConversationDetail is a conversation with its full message log.
type ConversationDetail struct {
	conversation.Conversation
	Messages []conversation.Message `json:"messages"`
}

// List handles GET /api/conversations.
func (h *ConversationsHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	page, err := h.store.ListConversations(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list conversations")
		return
	}
	writeData(w, http.StatusOK, page)
}

// Get handles GET /api/conversations/{id}.
func (h *ConversationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	conv, err := h.store.GetConversation(r.Context(), id)
	if err != nil {
		h.storeError(w, err, id)
		return
	}
	messages, err := h.store.ListMessages(r.Context(), id)
	if err != nil {
		h.storeError(w, err, id)
		return
	}
	if messages == nil {
		messages = []conversation.Message{}
	}
	writeData(w, http.StatusOK, ConversationDetail{Conversation: *conv, Messages: messages})
}

type tagRequest struct {
	Notes string `json:"notes"`
}

// Tag handles POST /api/conversations/{id}/tag. Tagging an urgent
// conversation again refreshes its notes.
func (h *ConversationsHandler) Tag(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	var req tagRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "invalid request body")
		return
	}
	notes := strings.TrimSpace(req.Notes)
	if notes == "" {
		notes = defaultManualTagNotes
	}
	actor := middleware.ActorFromContext(r.Context())
	if err := h.tagger.SetUrgencyTag(r.Context(), id, notes, actor); err != nil {
		h.storeError(w, err, id)
		return
	}
	h.logger.Info("conversation tagged urgent manually", "conversation_id", id, "actor", actor)
	h.writeConversation(w, r, id)
}

// Untag handles DELETE /api/conversations/{id}/tag.
func (h *ConversationsHandler) Untag(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	actor := middleware.ActorFromContext(r.Context())
	if err := h.tagger.ClearUrgencyTag(r.Context(), id, actor); err != nil {
		h.storeError(w, err, id)
		return
	}
	h.logger.Info("conversation urgency tag cleared", "conversation_id", id, "actor", actor)
	h.writeConversation(w, r, id)
}

// Tags handles GET /api/conversations/{id}/tags.
func (h *ConversationsHandler) Tags(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	history, err := h.store.ListTagHistory(r.Context(), id)
	if err != nil {
		h.storeError(w, err, id)
		return
	}
	if history == nil {
		history = []conversation.TagEvent{}
	}
	writeData(w, http.StatusOK, history)
}

// Analyze handles POST /api/conversations/{id}/analyze. It re-runs the
// classifier on the latest patient message without sending anything.
func (h *ConversationsHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(w, r)
	if !ok {
		return
	}
	if h.analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis_unavailable", "analysis is not configured")
		return
	}
	analysis, err := h.analyzer.Reanalyze(r.Context(), id)
	if err != nil {
		h.storeError(w, err, id)
		return
	}
	writeData(w, http.StatusOK, analysis)
}

func (h *ConversationsHandler) writeConversation(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	conv, err := h.store.GetConversation(r.Context(), id)
	if err != nil {
		h.storeError(w, err, id)
		return
	}
	writeData(w, http.StatusOK, conv)
}

func (h *ConversationsHandler) storeError(w http.ResponseWriter, err error, id uuid.UUID) {
	if errors.Is(err, conversation.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	h.logger.Error("conversation request failed", "error", err, "conversation_id", id)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}

func conversationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "conversation id must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}

func parseFilter(r *http.Request) (conversation.Filter, error) {
	q := r.URL.Query()
	filter := conversation.Filter{Search: strings.TrimSpace(q.Get("search"))}

	if v := q.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil {
			return filter, errors.New("page must be a number")
		}
		filter.Page = page
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return filter, errors.New("limit must be a number")
		}
		filter.Limit = limit
	}

	switch strings.ToLower(strings.TrimSpace(q.Get("urgency"))) {
	case "":
	case "urgent", "true":
		urgent := true
		filter.Urgent = &urgent
	case "normal", "false":
		urgent := false
		filter.Urgent = &urgent
	default:
		return filter, errors.New("urgency must be urgent or normal")
	}

	switch tag := conversation.TagColor(strings.ToLower(strings.TrimSpace(q.Get("tag")))); tag {
	case "":
	case conversation.TagOrange, conversation.TagNormal:
		filter.Tag = tag
	default:
		return filter, errors.New("tag must be orange or normal")
	}

	if v := strings.TrimSpace(q.Get("since")); v != "" {
		since, err := parseSince(v)
		if err != nil {
			return filter, errors.New("since must be RFC3339 or YYYY-MM-DD")
		}
		filter.Since = &since
	}
	return filter.Normalize(), nil
}

func parseSince(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
