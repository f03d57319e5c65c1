package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nickmccally/amida-messaging-microservice/internal/models"
)

// ErrThreadNotFound is returned when a thread has no rows visible to the
// requesting owner, whether or not it exists for anyone else.
var ErrThreadNotFound = errors.New("thread not found")

// ThreadFilters narrows the thread list. Nil boolean pointers mean "no
// filter". Supplying Archived switches the query to the manage scope, since
// the standard scope would never surface an archived thread.
type ThreadFilters struct {
	Archived *bool
	Unread   *bool
	Limit    int
	Offset   int
}

// ListThreads groups the owner's visible replicas by thread identity and
// returns one summary per thread, most recently active first.
//
// Per thread: senders is the distinct set of from values; archived is true
// if any replica is archived; unread is true if any replica is unread.
// refMessageId is the earliest unread replica for unread threads and the
// most recently read replica otherwise; subject comes from the
// earliest-created replica so later replies never relabel the thread.
func ListThreads(ctx context.Context, pool *pgxpool.Pool, owner string, f ThreadFilters) ([]*models.ThreadSummary, error) {
	scope := ScopeStandard
	if f.Archived != nil {
		scope = ScopeManage
	}

	args := []any{owner}
	var having []string
	if f.Archived != nil {
		args = append(args, *f.Archived)
		having = append(having, fmt.Sprintf("bool_or(is_archived) = $%d", len(args)))
	}
	if f.Unread != nil {
		args = append(args, *f.Unread)
		having = append(having, fmt.Sprintf("bool_or(read_at IS NULL) = $%d", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT
			original_message_id,
			array_agg(DISTINCT from_username) AS senders,
			MAX(created_at) AS most_recent,
			COUNT(id) AS count,
			bool_or(is_archived) AS archived,
			bool_or(read_at IS NULL) AS unread
		FROM messages
		WHERE %s
		GROUP BY original_message_id
	`, scope.Condition(1))

	if len(having) > 0 {
		query += " HAVING " + strings.Join(having, " AND ")
	}
	query += " ORDER BY most_recent DESC"

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
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	defer rows.Close()

	var threads []*models.ThreadSummary
	for rows.Next() {
		var thread models.ThreadSummary
		if err := rows.Scan(
			&thread.OriginalMessageID,
			&thread.Senders,
			&thread.MostRecent,
			&thread.Count,
			&thread.Archived,
			&thread.Unread,
		); err != nil {
			return nil, fmt.Errorf("failed to scan thread: %w", err)
		}
		threads = append(threads, &thread)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating threads: %w", err)
	}

	if err := enrichThreads(ctx, pool, owner, scope, threads); err != nil {
		return nil, err
	}

	return threads, nil
}

// enrichThreads fills in refMessageId and subject in a single pass over the
// owner's visible replicas of the listed threads.
func enrichThreads(ctx context.Context, pool *pgxpool.Pool, owner string, scope Scope, threads []*models.ThreadSummary) error {
	if len(threads) == 0 {
		return nil
	}

	threadMap := make(map[int64]*models.ThreadSummary, len(threads))
	threadIDs := make([]int64, 0, len(threads))
	for _, thread := range threads {
		threadMap[thread.OriginalMessageID] = thread
		threadIDs = append(threadIDs, thread.OriginalMessageID)
	}

	query := fmt.Sprintf(`
		SELECT id, original_message_id, subject, created_at, read_at
		FROM messages
		WHERE %s AND original_message_id = ANY($2)
		ORDER BY created_at, id
	`, scope.Condition(1))

	rows, err := pool.Query(ctx, query, owner, threadIDs)
	if err != nil {
		return fmt.Errorf("failed to enrich threads: %w", err)
	}
	defer rows.Close()

	// Tracked per thread while scanning rows in created_at order.
	subjectSeen := make(map[int64]bool)
	firstUnread := make(map[int64]int64)
	lastRead := make(map[int64]int64)
	lastReadAt := make(map[int64]time.Time)

	for rows.Next() {
		var (
			id, threadID int64
			subject      string
			createdAt    time.Time
			readAt       *time.Time
		)
		if err := rows.Scan(&id, &threadID, &subject, &createdAt, &readAt); err != nil {
			return fmt.Errorf("failed to scan thread message: %w", err)
		}

		thread, ok := threadMap[threadID]
		if !ok {
			continue
		}

		// Rows arrive earliest first, so the first row seen per thread
		// carries the root subject.
		if !subjectSeen[threadID] {
			thread.Subject = subject
			subjectSeen[threadID] = true
		}
		if readAt == nil {
			if _, seen := firstUnread[threadID]; !seen {
				firstUnread[threadID] = id
			}
		} else if at, seen := lastReadAt[threadID]; !seen || readAt.After(at) {
			lastRead[threadID] = id
			lastReadAt[threadID] = *readAt
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating thread messages: %w", err)
	}

	for _, thread := range threads {
		if thread.Unread {
			thread.RefMessageID = firstUnread[thread.OriginalMessageID]
		} else {
			thread.RefMessageID = lastRead[thread.OriginalMessageID]
		}
	}

	return nil
}

// GetThread returns the owner's visible replicas of one thread in reply
// order (ascending id, which follows creation order). An empty result is
// ErrThreadNotFound, hiding threads the owner never participated in.
func GetThread(ctx context.Context, pool *pgxpool.Pool, owner string, originalMessageID int64) ([]*models.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE %s AND original_message_id = $2
		ORDER BY id
	`, messageColumns, ScopeStandard.Condition(1))

	rows, err := pool.Query(ctx, query, owner, originalMessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
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
		return nil, fmt.Errorf("error iterating thread messages: %w", err)
	}

	if len(messages) == 0 {
		return nil, ErrThreadNotFound
	}

	return messages, nil
}
