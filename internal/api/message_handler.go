package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nickmccally/amida-messaging-microservice/internal/db"
	"github.com/nickmccally/amida-messaging-microservice/internal/models"
	"github.com/sirupsen/logrus"
)

// MessageHandler handles the per-message API: send, reply, list, count, and
// the four mailbox state transitions.
type MessageHandler struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger
}

func NewMessageHandler(pool *pgxpool.Pool, logger *logrus.Logger) *MessageHandler {
	return &MessageHandler{pool: pool, logger: logger}
}

// decodeSendRequest reads and validates a send/reply body. The sender is
// always the authenticated principal; a body that claims a different from
// is rejected with 403.
func (h *MessageHandler) decodeSendRequest(w http.ResponseWriter, r *http.Request, username string) (*models.SendMessageRequest, bool) {
	var req models.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return nil, false
	}

	if req.From != "" && req.From != username {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return nil, false
	}
	req.From = username

	if len(req.To) == 0 {
		http.Error(w, "to must contain at least one recipient", http.StatusBadRequest)
		return nil, false
	}
	for _, recipient := range req.To {
		if recipient == "" {
			http.Error(w, "recipient usernames must not be empty", http.StatusBadRequest)
			return nil, false
		}
	}

	return &req, true
}

// Send creates a new message, replicated to every recipient plus the sender.
// POST /api/v1/message/send
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	username, ok := GetUsernameFromRequest(w, r, h.logger)
	if !ok {
		return
	}

	req, ok := h.decodeSendRequest(w, r, username)
	if !ok {
		return
	}

	msg, err := db.SendMessage(r.Context(), h.pool, db.SendParams{
		From:    req.From,
		To:      req.To,
		Subject: req.Subject,
		Body:    req.Body,
	})
	if err != nil {
		h.logger.WithError(err).Error("MessageHandler: failed to send message")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"from":       username,
		"recipients": len(req.To),
		"message_id": msg.ID,
	}).Info("message sent")

	WriteJSON(w, http.StatusOK, msg, h.logger)
}

// Reply creates a reply to a message the principal can see.
// POST /api/v1/message/reply/{id}
func (h *MessageHandler) Reply(w http.ResponseWriter, r *http.Request) {
	username, ok := GetUsernameFromRequest(w, r, h.logger)
	if !ok {
		return
	}

	parentID, ok := ParseIDFromPath(w, r, "/api/v1/message/reply/")
	if !ok {
		return
	}

	req, ok := h.decodeSendRequest(w, r, username)
	if !ok {
		return
	}

	msg, err := db.ReplyToMessage(r.Context(), h.pool, parentID, db.SendParams{
		From:    req.From,
		To:      req.To,
		Subject: req.Subject,
		Body:    req.Body,
	})
	if err != nil {
		switch {
		case errors.Is(err, db.ErrMessageNotFound):
			http.Error(w, "Message not found", http.StatusNotFound)
		case errors.Is(err, db.ErrNotParticipant):
			http.Error(w, "Forbidden", http.StatusForbidden)
		default:
			h.logger.WithError(err).Error("MessageHandler: failed to reply")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	WriteJSON(w, http.StatusOK, msg, h.logger)
}

// List returns the principal's visible messages, newest first. Query
// parameters: from, unread, archived, summary, limit, offset.
// GET /api/v1/message/list
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	username, ok := GetUsernameFromRequest(w, r, h.logger)
	if !ok {
		return
	}

	limit, offset := ParseLimitOffset(r)
	filters := db.ListFilters{
		From:     r.URL.Query().Get("from"),
		Unread:   ParseBoolParam(r, "unread"),
		Archived: ParseBoolParam(r, "archived"),
		Limit:    limit,
		Offset:   offset,
	}

	messages, err := db.ListMessages(r.Context(), h.pool, username, filters)
	if err != nil {
		h.logger.WithError(err).Error("MessageHandler: failed to list messages")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if summary := ParseBoolParam(r, "summary"); summary != nil && *summary {
		summaries := make([]models.MessageSummary, 0, len(messages))
		for _, msg := range messages {
			summaries = append(summaries, msg.Summary())
		}
		WriteJSON(w, http.StatusOK, summaries, h.logger)
		return
	}

	if messages == nil {
		messages = []*models.Message{}
	}
	WriteJSON(w, http.StatusOK, messages, h.logger)
}

// Count returns the total and unread message counts for the principal.
// GET /api/v1/message/count
func (h *MessageHandler) Count(w http.ResponseWriter, r *http.Request) {
	username, ok := GetUsernameFromRequest(w, r, h.logger)
	if !ok {
		return
	}

	total, unread, err := db.CountMessages(r.Context(), h.pool, username)
	if err != nil {
		h.logger.WithError(err).Error("MessageHandler: failed to count messages")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, models.MessageCountResponse{Total: total, Unread: unread}, h.logger)
}

// Get returns one of the principal's messages, marking it read on first
// retrieval.
// GET /api/v1/message/get/{id}
func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.singleMessageOp(w, r, "/api/v1/message/get/", db.GetMessage)
}

// Delete soft-deletes one of the principal's messages and returns it.
// DELETE /api/v1/message/delete/{id}
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.singleMessageOp(w, r, "/api/v1/message/delete/", db.DeleteMessage)
}

// Archive archives one of the principal's messages and returns it.
// PUT /api/v1/message/archive/{id}
func (h *MessageHandler) Archive(w http.ResponseWriter, r *http.Request) {
	h.singleMessageOp(w, r, "/api/v1/message/archive/", db.ArchiveMessage)
}

// Unarchive restores an archived message to the default view and returns it.
// PUT /api/v1/message/unarchive/{id}
func (h *MessageHandler) Unarchive(w http.ResponseWriter, r *http.Request) {
	h.singleMessageOp(w, r, "/api/v1/message/unarchive/", db.UnarchiveMessage)
}

type messageOp func(ctx context.Context, pool *pgxpool.Pool, owner string, id int64) (*models.Message, error)

func (h *MessageHandler) singleMessageOp(w http.ResponseWriter, r *http.Request, prefix string, op messageOp) {
	username, ok := GetUsernameFromRequest(w, r, h.logger)
	if !ok {
		return
	}

	id, ok := ParseIDFromPath(w, r, prefix)
	if !ok {
		return
	}

	msg, err := op(r.Context(), h.pool, username, id)
	if err != nil {
		if errors.Is(err, db.ErrMessageNotFound) {
			http.Error(w, "Message not found", http.StatusNotFound)
			return
		}
		h.logger.WithError(err).Error("MessageHandler: message operation failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, msg, h.logger)
}
