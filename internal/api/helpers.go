package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/nickmccally/amida-messaging-microservice/internal/auth"
	"github.com/sirupsen/logrus"
)

// GetUsernameFromRequest extracts the authenticated username from the
// request context and writes a 401 when it is missing. Returns
// (username, true) on success.
func GetUsernameFromRequest(w http.ResponseWriter, r *http.Request, logger *logrus.Logger) (string, bool) {
	username, ok := auth.GetUsernameFromContext(r.Context())
	if !ok {
		logger.Warn("api: no username in request context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return username, true
}

// ParseIDFromPath parses the numeric id that follows the given route prefix,
// e.g. /api/v1/message/get/42. Returns (id, true) on success; writes a 400
// otherwise.
func ParseIDFromPath(w http.ResponseWriter, r *http.Request, prefix string) (int64, bool) {
	raw := strings.TrimPrefix(r.URL.Path, prefix)
	raw = strings.TrimSuffix(raw, "/")
	if raw == "" || raw == r.URL.Path {
		http.Error(w, "message id is required", http.StatusBadRequest)
		return 0, false
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		http.Error(w, "message id must be an integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// ParseLimitOffset parses limit and offset query parameters, ignoring
// missing or invalid values.
func ParseLimitOffset(r *http.Request) (limit, offset int) {
	if s := r.URL.Query().Get("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			offset = parsed
		}
	}
	return limit, offset
}

// ParseBoolParam returns a pointer to the parsed value of a boolean query
// parameter, or nil when the parameter is absent or malformed.
func ParseBoolParam(r *http.Request, name string) *bool {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil
	}
	value, err := strconv.ParseBool(s)
	if err != nil {
		return nil
	}
	return &value
}

// WriteJSON encodes v as the JSON response body.
func WriteJSON(w http.ResponseWriter, status int, v any, logger *logrus.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("api: failed to encode response")
	}
}
