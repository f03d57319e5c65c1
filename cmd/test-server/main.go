// Command test-server runs the messaging API against a throwaway Postgres
// container, seeds a few conversations, and prints ready-to-use JWTs for the
// seeded users. Intended for local development and E2E testing.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nickmccally/amida-messaging-microservice/internal/api"
	"github.com/nickmccally/amida-messaging-microservice/internal/auth"
	"github.com/nickmccally/amida-messaging-microservice/internal/config"
	"github.com/nickmccally/amida-messaging-microservice/internal/db"
	"github.com/nickmccally/amida-messaging-microservice/internal/middleware"
	"github.com/nickmccally/amida-messaging-microservice/internal/models"
	"github.com/nickmccally/amida-messaging-microservice/internal/testutil"
)

var seedUsers = []string{"alice", "bob", "carol"}

func main() {
	ctx := context.Background()

	if err := setupTestEnvironment(); err != nil {
		log.Fatalf("Failed to setup test environment: %v", err)
	}

	postgresContainer, connStr, err := startPostgres(ctx)
	if err != nil {
		log.Fatalf("Failed to start Postgres: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate Postgres container: %v", err)
		}
	}()

	cfg, pool, err := setupDatabase(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to setup database: %v", err)
	}
	defer pool.Close()

	if err := seedConversations(ctx, pool); err != nil {
		log.Fatalf("Failed to seed conversations: %v", err)
	}

	if err := printTokens(cfg); err != nil {
		log.Fatalf("Failed to generate tokens: %v", err)
	}

	if err := startHTTPServer(cfg, pool); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// setupTestEnvironment sets the environment variables the config layer
// requires before it is loaded.
func setupTestEnvironment() error {
	vars := map[string]string{
		"NODE_ENV":   "test",
		"JWT_SECRET": "test-server-secret",
		"PG_USER":    "messaging",
		"PG_PASSWD":  "messaging",
		"PG_DB":      "messaging_test",
	}
	for key, value := range vars {
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

// startPostgres starts a test Postgres database using testcontainers.
func startPostgres(ctx context.Context) (testcontainers.Container, string, error) {
	log.Println("Starting test Postgres database...")
	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("messaging_test"),
		postgres.WithUsername("messaging"),
		postgres.WithPassword("messaging"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start Postgres container: %w", err)
	}

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get connection string: %w", err)
	}

	log.Println("Test Postgres database started")
	return postgresContainer, connStr, nil
}

// setupDatabase creates a database connection pool and runs migrations.
func setupDatabase(ctx context.Context, connStr string) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := testutil.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Println("Successfully connected to database and ran migrations")
	return cfg, pool, nil
}

// seedConversations creates a few threads between the seed users so the API
// has data to serve immediately.
func seedConversations(ctx context.Context, pool *pgxpool.Pool) error {
	welcome, err := db.SendMessage(ctx, pool, db.SendParams{
		From:    "alice",
		To:      []string{"bob", "carol"},
		Subject: "Welcome to the messaging service",
		Body:    "This conversation was seeded by the test server.",
	})
	if err != nil {
		return fmt.Errorf("failed to seed welcome message: %w", err)
	}

	bobReplica, err := findReplica(ctx, pool, "bob", welcome.OriginalMessageID)
	if err != nil {
		return err
	}
	if _, err := db.ReplyToMessage(ctx, pool, bobReplica.ID, db.SendParams{
		From:    "bob",
		To:      []string{"alice", "carol"},
		Subject: "Re: Welcome to the messaging service",
		Body:    "Thanks, received loud and clear.",
	}); err != nil {
		return fmt.Errorf("failed to seed reply: %w", err)
	}

	if _, err := db.SendMessage(ctx, pool, db.SendParams{
		From:    "carol",
		To:      []string{"alice"},
		Subject: "Meeting tomorrow",
		Body:    "Don't forget about the meeting tomorrow at 2 PM.",
	}); err != nil {
		return fmt.Errorf("failed to seed second thread: %w", err)
	}

	log.Println("Seeded conversations for users:", strings.Join(seedUsers, ", "))
	return nil
}

// findReplica locates one owner's replica within a thread.
func findReplica(ctx context.Context, pool *pgxpool.Pool, owner string, originalMessageID int64) (*models.Message, error) {
	messages, err := db.GetThread(ctx, pool, owner, originalMessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread %d for %s: %w", originalMessageID, owner, err)
	}
	return messages[0], nil
}

// printTokens logs a long-lived JWT per seed user for use in curl or E2E tests.
func printTokens(cfg *config.Config) error {
	logger := logrus.New()
	authenticator := auth.NewAuthenticator(cfg.JWTSecret, logger)

	for _, username := range seedUsers {
		token, err := authenticator.GenerateToken(username, 24*time.Hour)
		if err != nil {
			return fmt.Errorf("failed to generate token for %s: %w", username, err)
		}
		log.Printf("Token for %s: %s", username, token)
	}
	return nil
}

// startHTTPServer starts the HTTP server and waits for shutdown signals.
func startHTTPServer(cfg *config.Config, dbPool *pgxpool.Pool) error {
	logger := logrus.New()
	server := NewServer(cfg, dbPool, logger)
	address := ":" + cfg.Port

	log.Printf("Messaging test server starting on %s", address)
	log.Println("Server ready for E2E tests. Press Ctrl+C to stop.")

	serverErr := make(chan error, 1)
	go func() {
		if err := http.ListenAndServe(address, server); err != nil {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down...", sig)
		return nil
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}
}

// NewServer creates the HTTP handler for the messaging API. Kept in sync with
// the production server's routing.
func NewServer(cfg *config.Config, dbPool *pgxpool.Pool, logger *logrus.Logger) http.Handler {
	authenticator := auth.NewAuthenticator(cfg.JWTSecret, logger)

	messageHandler := api.NewMessageHandler(dbPool, logger)
	threadHandler := api.NewThreadHandler(dbPool, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("/", handleRoot)

	protect := func(handler http.HandlerFunc) http.Handler {
		return authenticator.RequireAuth(handler)
	}

	mux.Handle("/api/v1/message/send", protect(messageHandler.Send))
	mux.Handle("/api/v1/message/reply/", protect(messageHandler.Reply))
	mux.Handle("/api/v1/message/list", protect(messageHandler.List))
	mux.Handle("/api/v1/message/count", protect(messageHandler.Count))
	mux.Handle("/api/v1/message/get/", protect(messageHandler.Get))
	mux.Handle("/api/v1/message/delete/", protect(messageHandler.Delete))
	mux.Handle("/api/v1/message/archive/", protect(messageHandler.Archive))
	mux.Handle("/api/v1/message/unarchive/", protect(messageHandler.Unarchive))

	mux.Handle("/api/v1/thread/", protect(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimPrefix(r.URL.Path, "/api/v1/thread/") == "" {
			threadHandler.List(w, r)
			return
		}
		threadHandler.Get(w, r)
	}))

	rateLimit := middleware.RateLimiter(100, time.Minute)
	return rateLimit(mux)
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Messaging test server is running")
}
