package api

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nickmccally/amida-messaging-microservice/internal/db"
	"github.com/nickmccally/amida-messaging-microservice/internal/models"
	"github.com/sirupsen/logrus"
)

// ThreadHandler handles the thread list and single-thread API.
type ThreadHandler struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger
}

func NewThreadHandler(pool *pgxpool.Pool, logger *logrus.Logger) *ThreadHandler {
	return &ThreadHandler{pool: pool, logger: logger}
}

// List returns one summary per thread the principal participates in, most
// recently active first. Query parameters: archived, unread, limit, offset.
// GET /api/v1/thread/
func (h *ThreadHandler) List(w http.ResponseWriter, r *http.Request) {
	username, ok := GetUsernameFromRequest(w, r, h.logger)
	if !ok {
		return
	}

	limit, offset := ParseLimitOffset(r)
	filters := db.ThreadFilters{
		Archived: ParseBoolParam(r, "archived"),
		Unread:   ParseBoolParam(r, "unread"),
		Limit:    limit,
		Offset:   offset,
	}

	threads, err := db.ListThreads(r.Context(), h.pool, username, filters)
	if err != nil {
		h.logger.WithError(err).Error("ThreadHandler: failed to list threads")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if threads == nil {
		threads = []*models.ThreadSummary{}
	}
	WriteJSON(w, http.StatusOK, threads, h.logger)
}

// Get returns the messages of one thread in reply order. Threads with no
// rows visible to the principal are reported as not found.
// GET /api/v1/thread/{originalMessageId}
func (h *ThreadHandler) Get(w http.ResponseWriter, r *http.Request) {
	username, ok := GetUsernameFromRequest(w, r, h.logger)
	if !ok {
		return
	}

	originalMessageID, ok := ParseIDFromPath(w, r, "/api/v1/thread/")
	if !ok {
		return
	}

	messages, err := db.GetThread(r.Context(), h.pool, username, originalMessageID)
	if err != nil {
		if errors.Is(err, db.ErrThreadNotFound) {
			http.Error(w, "Thread not found", http.StatusNotFound)
			return
		}
		h.logger.WithError(err).Error("ThreadHandler: failed to get thread")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, messages, h.logger)
}
