package db

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nickmccally/amida-messaging-microservice/internal/models"
)

// ErrMessageNotFound is returned when a requested message does not exist or
// is not visible to the requesting owner. The two cases are deliberately
// indistinguishable so that other users' mail cannot be probed.
var ErrMessageNotFound = errors.New("message not found")

// ErrNotParticipant is returned when a user tries to reply to a message they
// were neither a recipient nor the sender of.
var ErrNotParticipant = errors.New("sender was not a participant of the parent message")

const messageColumns = `id, owner, from_username, to_usernames, subject, body,
		original_message_id, parent_message_id, read_at, is_deleted, is_archived, created_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	err := row.Scan(
		&msg.ID,
		&msg.Owner,
		&msg.From,
		&msg.To,
		&msg.Subject,
		&msg.Body,
		&msg.OriginalMessageID,
		&msg.ParentMessageID,
		&msg.ReadAt,
		&msg.IsDeleted,
		&msg.IsArchived,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendParams describes one logical send or reply event.
type SendParams struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// SendMessage creates a new root message: one replica per recipient plus the
// sender's own replica, all in one transaction. The sender's replica is
// returned; it is created already read (read_at = created_at) and its own id
// becomes the thread identity (original_message_id) of every replica.
func SendMessage(ctx context.Context, pool *pgxpool.Pool, p SendParams) (*models.Message, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin send transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	msg, err := fanOut(ctx, tx, p, nil, nil)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit send: %w", err)
	}
	return msg, nil
}

// ReplyToMessage creates a reply to the replica identified by parentID. The
// parent must be visible to the replying user under the standard scope
// (ErrMessageNotFound otherwise), and the replier must have been a
// participant of the parent (ErrNotParticipant otherwise). The new replicas
// inherit the parent's thread identity and record parentID as their parent.
func ReplyToMessage(ctx context.Context, pool *pgxpool.Pool, parentID int64, p SendParams) (*models.Message, error) {
	parent, err := getMessageScoped(ctx, pool, p.From, parentID, ScopeStandard)
	if err != nil {
		return nil, err
	}

	if parent.From != p.From && !slices.Contains(parent.To, p.From) {
		return nil, ErrNotParticipant
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin reply transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	msg, err := fanOut(ctx, tx, p, &parent.OriginalMessageID, &parentID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reply: %w", err)
	}
	return msg, nil
}

// fanOut inserts the sender's replica plus one replica per recipient, all
// sharing one created_at. The sender's row goes first because its generated
// id is the thread identity for root messages (originalID == nil).
func fanOut(ctx context.Context, tx pgx.Tx, p SendParams, originalID, parentID *int64) (*models.Message, error) {
	// Postgres stores microseconds; truncate so the in-memory replica
	// matches what a later read returns.
	createdAt := time.Now().UTC().Truncate(time.Microsecond)

	var senderID int64
	err := tx.QueryRow(ctx, `
		INSERT INTO messages (owner, from_username, to_usernames, subject, body,
			original_message_id, parent_message_id, read_at, created_at)
		VALUES ($1, $1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id
	`, p.From, p.To, p.Subject, p.Body, originalID, parentID, createdAt).Scan(&senderID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert sender message: %w", err)
	}

	threadID := senderID
	if originalID != nil {
		threadID = *originalID
	} else {
		// Root message: point the row at itself now that its id is known.
		if _, err := tx.Exec(ctx, `
			UPDATE messages SET original_message_id = $1 WHERE id = $1
		`, senderID); err != nil {
			return nil, fmt.Errorf("failed to assign thread id: %w", err)
		}
	}

	for _, recipient := range p.To {
		if _, err := tx.Exec(ctx, `
			INSERT INTO messages (owner, from_username, to_usernames, subject, body,
				original_message_id, parent_message_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, recipient, p.From, p.To, p.Subject, p.Body, threadID, parentID, createdAt); err != nil {
			return nil, fmt.Errorf("failed to insert message for %s: %w", recipient, err)
		}
	}

	readAt := createdAt
	return &models.Message{
		ID:                senderID,
		Owner:             p.From,
		From:              p.From,
		To:                p.To,
		Subject:           p.Subject,
		Body:              p.Body,
		OriginalMessageID: threadID,
		ParentMessageID:   parentID,
		ReadAt:            &readAt,
		CreatedAt:         createdAt,
	}, nil
}

func getMessageScoped(ctx context.Context, pool *pgxpool.Pool, owner string, id int64, scope Scope) (*models.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE %s AND id = $2
	`, messageColumns, scope.Condition(1))

	msg, err := scanMessage(pool.QueryRow(ctx, query, owner, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// GetMessage fetches the owner's replica with the given id and marks it read
// if it wasn't already. The first read sets read_at; later reads leave the
// original timestamp untouched.
func GetMessage(ctx context.Context, pool *pgxpool.Pool, owner string, id int64) (*models.Message, error) {
	query := fmt.Sprintf(`
		UPDATE messages
		SET read_at = COALESCE(read_at, now())
		WHERE %s AND id = $2
		RETURNING %s
	`, ScopeStandard.Condition(1), messageColumns)

	msg, err := scanMessage(pool.QueryRow(ctx, query, owner, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// DeleteMessage soft-deletes the owner's replica. Deleted rows never surface
// again under either scope; there is no undelete.
func DeleteMessage(ctx context.Context, pool *pgxpool.Pool, owner string, id int64) (*models.Message, error) {
	return setMessageFlag(ctx, pool, owner, id, "is_deleted = true", ScopeStandard)
}

// ArchiveMessage archives the owner's replica.
func ArchiveMessage(ctx context.Context, pool *pgxpool.Pool, owner string, id int64) (*models.Message, error) {
	return setMessageFlag(ctx, pool, owner, id, "is_archived = true", ScopeStandard)
}

// UnarchiveMessage clears the archive flag. It uses the manage scope so the
// row is still found even though it is archived.
func UnarchiveMessage(ctx context.Context, pool *pgxpool.Pool, owner string, id int64) (*models.Message, error) {
	return setMessageFlag(ctx, pool, owner, id, "is_archived = false", ScopeManage)
}

func setMessageFlag(ctx context.Context, pool *pgxpool.Pool, owner string, id int64, assignment string, scope Scope) (*models.Message, error) {
	query := fmt.Sprintf(`
		UPDATE messages
		SET %s
		WHERE %s AND id = $2
		RETURNING %s
	`, assignment, scope.Condition(1), messageColumns)

	msg, err := scanMessage(pool.QueryRow(ctx, query, owner, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	return msg, nil
}

// ListFilters narrows the rows returned by ListMessages. Nil boolean
// pointers mean "no filter". Supplying Archived switches the query to the
// manage scope so archived rows can actually match.
type ListFilters struct {
	From     string
	Unread   *bool
	Archived *bool
	Limit    int
	Offset   int
}

// ListMessages returns the owner's visible replicas, newest first.
func ListMessages(ctx context.Context, pool *pgxpool.Pool, owner string, f ListFilters) ([]*models.Message, error) {
	scope := ScopeStandard
	if f.Archived != nil {
		scope = ScopeManage
	}

	conditions := []string{scope.Condition(1)}
	args := []any{owner}

	if f.From != "" {
		args = append(args, f.From)
		conditions = append(conditions, fmt.Sprintf("from_username = $%d", len(args)))
	}
	if f.Archived != nil {
		args = append(args, *f.Archived)
		conditions = append(conditions, fmt.Sprintf("is_archived = $%d", len(args)))
	}
	if f.Unread != nil {
		if *f.Unread {
			conditions = append(conditions, "read_at IS NULL")
		} else {
			conditions = append(conditions, "read_at IS NOT NULL")
		}
	}

	query := fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE %s
		ORDER BY created_at DESC, id DESC
	`, messageColumns, strings.Join(conditions, " AND "))

	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// CountMessages returns the total and unread counts of the owner's visible
// replicas under the standard scope.
func CountMessages(ctx context.Context, pool *pgxpool.Pool, owner string) (total, unread int, err error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*), COUNT(*) FILTER (WHERE read_at IS NULL)
		FROM messages
		WHERE %s
	`, ScopeStandard.Condition(1))

	if err := pool.QueryRow(ctx, query, owner).Scan(&total, &unread); err != nil {
		return 0, 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return total, unread, nil
}
