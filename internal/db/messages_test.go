package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickmccally/amida-messaging-microservice/internal/models"
	"github.com/nickmccally/amida-messaging-microservice/internal/testutil"
)

// fetchAllForOwner reads an owner's rows directly, bypassing any scope, so
// tests can inspect deleted and archived replicas too.
func fetchAllForOwner(t *testing.T, ctx context.Context, pool *pgxpool.Pool, owner string) []*models.Message {
	t.Helper()

	rows, err := pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE owner = $1
		ORDER BY id
	`, owner)
	require.NoError(t, err)
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		require.NoError(t, err)
		messages = append(messages, msg)
	}
	require.NoError(t, rows.Err())
	return messages
}

func findReplica(t *testing.T, ctx context.Context, pool *pgxpool.Pool, owner string, originalMessageID int64) *models.Message {
	t.Helper()

	for _, msg := range fetchAllForOwner(t, ctx, pool, owner) {
		if msg.OriginalMessageID == originalMessageID {
			return msg
		}
	}
	t.Fatalf("no replica of thread %d found for %s", originalMessageID, owner)
	return nil
}

func TestSendMessage(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	sent, err := SendMessage(ctx, pool, SendParams{
		From:    "user0",
		To:      []string{"user1", "user2"},
		Subject: "Test Message",
		Body:    "Test post please ignore",
	})
	require.NoError(t, err)

	// The returned replica belongs to the sender and is already read.
	assert.Equal(t, "user0", sent.Owner)
	assert.Equal(t, "user0", sent.From)
	assert.Equal(t, []string{"user1", "user2"}, sent.To)
	require.NotNil(t, sent.ReadAt)
	assert.Equal(t, sent.CreatedAt, *sent.ReadAt)
	assert.Equal(t, sent.ID, sent.OriginalMessageID)
	assert.Nil(t, sent.ParentMessageID)

	// One row per recipient plus the sender's, sharing all content fields.
	var groupSize int
	err = pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages WHERE original_message_id = $1
	`, sent.ID).Scan(&groupSize)
	require.NoError(t, err)
	assert.Equal(t, 3, groupSize)

	for _, recipient := range []string{"user1", "user2"} {
		replica := findReplica(t, ctx, pool, recipient, sent.ID)
		assert.Equal(t, "user0", replica.From)
		assert.Equal(t, []string{"user1", "user2"}, replica.To)
		assert.Equal(t, sent.Subject, replica.Subject)
		assert.Equal(t, sent.Body, replica.Body)
		assert.WithinDuration(t, sent.CreatedAt, replica.CreatedAt, time.Microsecond)
		assert.Equal(t, sent.OriginalMessageID, replica.OriginalMessageID)
		assert.Nil(t, replica.ReadAt, "recipient replicas start unread")
	}

	// The stored sender row matches what was returned.
	stored := findReplica(t, ctx, pool, "user0", sent.ID)
	assert.Equal(t, sent.ID, stored.ID)
	require.NotNil(t, stored.ReadAt)
	assert.True(t, stored.ReadAt.Equal(stored.CreatedAt), "sender replica is read at creation time")
}

func TestReplyToMessage(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	root, err := SendMessage(ctx, pool, SendParams{
		From:    "user0",
		To:      []string{"user1", "user2"},
		Subject: "Test Message",
		Body:    "Test post please ignore",
	})
	require.NoError(t, err)

	// user2 replies through their own replica of the root.
	parent := findReplica(t, ctx, pool, "user2", root.OriginalMessageID)

	reply, err := ReplyToMessage(ctx, pool, parent.ID, SendParams{
		From:    "user2",
		To:      []string{"user0", "user1"},
		Subject: "RE: Test Message",
		Body:    "Test reply please ignore",
	})
	require.NoError(t, err)

	assert.Equal(t, "user2", reply.Owner)
	assert.Equal(t, root.OriginalMessageID, reply.OriginalMessageID)
	require.NotNil(t, reply.ParentMessageID)
	assert.Equal(t, parent.ID, *reply.ParentMessageID)

	// Every participant got a replica of the reply with the same thread identity.
	for _, owner := range []string{"user0", "user1"} {
		messages := fetchAllForOwner(t, ctx, pool, owner)
		var replyReplica *models.Message
		for _, msg := range messages {
			if msg.ParentMessageID != nil && *msg.ParentMessageID == parent.ID {
				replyReplica = msg
			}
		}
		require.NotNil(t, replyReplica, "reply replica missing for %s", owner)
		assert.Equal(t, root.OriginalMessageID, replyReplica.OriginalMessageID)
		assert.Equal(t, "Test reply please ignore", replyReplica.Body)
		assert.Nil(t, replyReplica.ReadAt)
	}
}

func TestReplyToMessageNotVisible(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	root, err := SendMessage(ctx, pool, SendParams{
		From:    "user0",
		To:      []string{"user1"},
		Subject: "Private",
		Body:    "For user1 only",
	})
	require.NoError(t, err)

	// userBad never participated; the parent lookup must not reveal the row.
	_, err = ReplyToMessage(ctx, pool, root.ID, SendParams{
		From:    "userBad",
		To:      []string{"user1", "user0"},
		Subject: "RE: Private",
		Body:    "Bad reply please ignore",
	})
	assert.ErrorIs(t, err, ErrMessageNotFound)

	// A participant cannot reply through another owner's replica id either.
	parent := findReplica(t, ctx, pool, "user1", root.OriginalMessageID)
	_, err = ReplyToMessage(ctx, pool, parent.ID, SendParams{
		From:    "user0",
		To:      []string{"user1"},
		Subject: "RE: Private",
		Body:    "Wrong replica",
	})
	assert.ErrorIs(t, err, ErrMessageNotFound)

	// Nonexistent parent.
	_, err = ReplyToMessage(ctx, pool, 99999, SendParams{
		From:    "user1",
		To:      []string{"user0"},
		Subject: "RE: Private",
		Body:    "Ghost parent",
	})
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestGetMessageMarksRead(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	root, err := SendMessage(ctx, pool, SendParams{
		From:    "user0",
		To:      []string{"user1"},
		Subject: "Test Message",
		Body:    "Test post please ignore",
	})
	require.NoError(t, err)

	replica := findReplica(t, ctx, pool, "user1", root.OriginalMessageID)
	require.Nil(t, replica.ReadAt)

	first, err := GetMessage(ctx, pool, "user1", replica.ID)
	require.NoError(t, err)
	require.NotNil(t, first.ReadAt)

	// A second read leaves the original read timestamp untouched.
	second, err := GetMessage(ctx, pool, "user1", replica.ID)
	require.NoError(t, err)
	require.NotNil(t, second.ReadAt)
	assert.True(t, first.ReadAt.Equal(*second.ReadAt), "read timestamp must not move on re-read")
}

func TestGetMessageOwnershipScoped(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	root, err := SendMessage(ctx, pool, SendParams{
		From:    "user0",
		To:      []string{"user1"},
		Subject: "Test Message",
		Body:    "Test post please ignore",
	})
	require.NoError(t, err)

	// Another user's replica id is invisible, as is a nonexistent id.
	_, err = GetMessage(ctx, pool, "user2", root.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)

	_, err = GetMessage(ctx, pool, "user0", 99999)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestDeleteMessage(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	root, err := SendMessage(ctx, pool, SendParams{
		From:    "user0",
		To:      []string{"user1"},
		Subject: "Test Message",
		Body:    "Test post please ignore",
	})
	require.NoError(t, err)

	deleted, err := DeleteMessage(ctx, pool, "user0", root.ID)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)

	// Deleted rows are gone under both scopes.
	_, err = GetMessage(ctx, pool, "user0", root.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)
	_, err = UnarchiveMessage(ctx, pool, "user0", root.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)

	// The recipient's replica is untouched.
	replica := findReplica(t, ctx, pool, "user1", root.OriginalMessageID)
	assert.False(t, replica.IsDeleted)
}

func TestArchiveAndUnarchive(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	root, err := SendMessage(ctx, pool, SendParams{
		From:    "user0",
		To:      []string{"user1"},
		Subject: "Test Message",
		Body:    "Test post please ignore",
	})
	require.NoError(t, err)

	archived, err := ArchiveMessage(ctx, pool, "user0", root.ID)
	require.NoError(t, err)
	assert.True(t, archived.IsArchived)

	// Standard scope no longer sees it; archiving twice also fails.
	_, err = GetMessage(ctx, pool, "user0", root.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)
	_, err = ArchiveMessage(ctx, pool, "user0", root.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)

	// Unarchive still finds it and restores default visibility.
	unarchived, err := UnarchiveMessage(ctx, pool, "user0", root.ID)
	require.NoError(t, err)
	assert.False(t, unarchived.IsArchived)

	restored, err := GetMessage(ctx, pool, "user0", root.ID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, restored.ID)
}

func TestListMessages(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	_, err := SendMessage(ctx, pool, SendParams{
		From: "user1", To: []string{"user0"}, Subject: "From user1", Body: "a",
	})
	require.NoError(t, err)
	second, err := SendMessage(ctx, pool, SendParams{
		From: "user2", To: []string{"user0"}, Subject: "From user2", Body: "b",
	})
	require.NoError(t, err)

	all, err := ListMessages(ctx, pool, "user0", ListFilters{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Newest first.
	assert.Equal(t, "user2", all[0].From)

	boolTrue := true
	boolFalse := false

	t.Run("from filter", func(t *testing.T) {
		messages, err := ListMessages(ctx, pool, "user0", ListFilters{From: "user1"})
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "user1", messages[0].From)
	})

	t.Run("unread filter", func(t *testing.T) {
		unread, err := ListMessages(ctx, pool, "user0", ListFilters{Unread: &boolTrue})
		require.NoError(t, err)
		assert.Len(t, unread, 2)

		read, err := ListMessages(ctx, pool, "user0", ListFilters{Unread: &boolFalse})
		require.NoError(t, err)
		assert.Empty(t, read)
	})

	t.Run("limit and offset", func(t *testing.T) {
		page, err := ListMessages(ctx, pool, "user0", ListFilters{Limit: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "user2", page[0].From)

		next, err := ListMessages(ctx, pool, "user0", ListFilters{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, next, 1)
		assert.Equal(t, "user1", next[0].From)
	})

	t.Run("archived filter", func(t *testing.T) {
		replica := findReplica(t, ctx, pool, "user0", second.OriginalMessageID)
		_, err := ArchiveMessage(ctx, pool, "user0", replica.ID)
		require.NoError(t, err)

		archived, err := ListMessages(ctx, pool, "user0", ListFilters{Archived: &boolTrue})
		require.NoError(t, err)
		require.Len(t, archived, 1)
		assert.Equal(t, replica.ID, archived[0].ID)

		// Without the filter the archived row is hidden again.
		visible, err := ListMessages(ctx, pool, "user0", ListFilters{})
		require.NoError(t, err)
		assert.Len(t, visible, 1)
	})
}

func TestCountMessages(t *testing.T) {
	pool := testutil.NewTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	root, err := SendMessage(ctx, pool, SendParams{
		From: "user0", To: []string{"user1"}, Subject: "One", Body: "a",
	})
	require.NoError(t, err)
	_, err = SendMessage(ctx, pool, SendParams{
		From: "user2", To: []string{"user1"}, Subject: "Two", Body: "b",
	})
	require.NoError(t, err)

	total, unread, err := CountMessages(ctx, pool, "user1")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, unread)

	replica := findReplica(t, ctx, pool, "user1", root.OriginalMessageID)
	_, err = GetMessage(ctx, pool, "user1", replica.ID)
	require.NoError(t, err)

	total, unread, err = CountMessages(ctx, pool, "user1")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, unread)

	// The sender's own replica counts as read from the start.
	total, unread, err = CountMessages(ctx, pool, "user0")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 0, unread)
}
