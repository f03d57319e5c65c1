package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nickmccally/amida-messaging-microservice/internal/api"
	"github.com/nickmccally/amida-messaging-microservice/internal/auth"
	"github.com/nickmccally/amida-messaging-microservice/internal/config"
	"github.com/nickmccally/amida-messaging-microservice/internal/db"
	"github.com/nickmccally/amida-messaging-microservice/internal/middleware"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.NewConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load config")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	ctx := context.Background()
	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.CloseConnection(pool)

	logger.Info("Successfully connected to database")

	server := NewServer(cfg, pool, logger)

	address := ":" + cfg.Port
	logger.WithFields(logrus.Fields{
		"address":     address,
		"environment": cfg.Environment,
	}).Info("Messaging service starting")

	if err := http.ListenAndServe(address, server); err != nil {
		logger.WithError(err).Fatal("Server failed to start")
	}
}

// NewServer creates and returns the HTTP handler for the messaging API.
func NewServer(cfg *config.Config, dbPool *pgxpool.Pool, logger *logrus.Logger) http.Handler {
	authenticator := auth.NewAuthenticator(cfg.JWTSecret, logger)

	messageHandler := api.NewMessageHandler(dbPool, logger)
	threadHandler := api.NewThreadHandler(dbPool, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("/", handleRoot)

	protect := func(method string, handler http.HandlerFunc) http.Handler {
		return authenticator.RequireAuth(requireMethod(method, handler))
	}

	mux.Handle("/api/v1/message/send", protect(http.MethodPost, messageHandler.Send))
	mux.Handle("/api/v1/message/reply/", protect(http.MethodPost, messageHandler.Reply))
	mux.Handle("/api/v1/message/list", protect(http.MethodGet, messageHandler.List))
	mux.Handle("/api/v1/message/count", protect(http.MethodGet, messageHandler.Count))
	mux.Handle("/api/v1/message/get/", protect(http.MethodGet, messageHandler.Get))
	mux.Handle("/api/v1/message/delete/", protect(http.MethodDelete, messageHandler.Delete))
	mux.Handle("/api/v1/message/archive/", protect(http.MethodPut, messageHandler.Archive))
	mux.Handle("/api/v1/message/unarchive/", protect(http.MethodPut, messageHandler.Unarchive))

	// /api/v1/thread/ serves the thread list; /api/v1/thread/{id} serves one thread.
	mux.Handle("/api/v1/thread/", protect(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimPrefix(r.URL.Path, "/api/v1/thread/") == "" {
			threadHandler.List(w, r)
			return
		}
		threadHandler.Get(w, r)
	}))

	rateLimit := middleware.RateLimiter(100, time.Minute)
	return rateLimit(mux)
}

// requireMethod rejects requests whose method doesn't match.
func requireMethod(method string, handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	})
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Amida messaging service is running")
}
