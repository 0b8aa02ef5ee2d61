package database

import (
	"context"
	"testing"
	"time"

	"securetext/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMismatchAnnotations(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	threadID, err := db.ThreadIDFor(ctx, singleRecipient())
	require.NoError(t, err)

	messageID, err := db.InsertOutgoingText(ctx, &models.OutgoingTextMessage{
		Recipients: singleRecipient(),
		Body:       "conflicted",
	}, threadID)
	require.NoError(t, err)

	mismatch := models.IdentityKeyMismatch{RecipientID: 101, IdentityKey: "stale-key"}

	t.Run("save and read back", func(t *testing.T) {
		require.NoError(t, db.SaveMismatch(ctx, models.KindText, messageID, mismatch))

		mismatches, err := db.MismatchesFor(ctx, models.KindText, messageID)
		require.NoError(t, err)
		require.Len(t, mismatches, 1)
		assert.True(t, mismatch.Equal(mismatches[0]))
	})

	t.Run("newer key replaces the old one", func(t *testing.T) {
		replaced := models.IdentityKeyMismatch{RecipientID: 101, IdentityKey: "newer-key"}
		require.NoError(t, db.SaveMismatch(ctx, models.KindText, messageID, replaced))

		mismatches, err := db.MismatchesFor(ctx, models.KindText, messageID)
		require.NoError(t, err)
		require.Len(t, mismatches, 1)
		assert.Equal(t, "newer-key", mismatches[0].IdentityKey)
	})

	t.Run("clear reports whether a row was removed", func(t *testing.T) {
		current := models.IdentityKeyMismatch{RecipientID: 101, IdentityKey: "newer-key"}

		cleared, err := db.ClearMismatch(ctx, models.KindText, messageID, current)
		require.NoError(t, err)
		assert.True(t, cleared)

		cleared, err = db.ClearMismatch(ctx, models.KindText, messageID, current)
		require.NoError(t, err)
		assert.False(t, cleared)
	})

	t.Run("clear matches recipient and key together", func(t *testing.T) {
		require.NoError(t, db.SaveMismatch(ctx, models.KindText, messageID, mismatch))

		wrongKey := models.IdentityKeyMismatch{RecipientID: 101, IdentityKey: "some-other-key"}
		cleared, err := db.ClearMismatch(ctx, models.KindText, messageID, wrongKey)
		require.NoError(t, err)
		assert.False(t, cleared)

		mismatches, err := db.MismatchesFor(ctx, models.KindText, messageID)
		require.NoError(t, err)
		assert.Len(t, mismatches, 1)
	})
}

func TestNetworkFailureAnnotations(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	threadID, err := db.ThreadIDFor(ctx, groupRecipients())
	require.NoError(t, err)

	messageID, err := db.InsertOutgoingText(ctx, &models.OutgoingTextMessage{
		Recipients: groupRecipients(),
		Body:       "partially failed",
	}, threadID)
	require.NoError(t, err)

	require.NoError(t, db.MarkFailed(ctx, models.KindText, messageID, models.NetworkFailure{RecipientID: 102}))
	require.NoError(t, db.MarkFailed(ctx, models.KindText, messageID, models.NetworkFailure{RecipientID: 103}))

	failures, err := db.NetworkFailuresFor(ctx, models.KindText, messageID)
	require.NoError(t, err)
	assert.Len(t, failures, 2)

	require.NoError(t, db.ClearNetworkFailures(ctx, models.KindText, messageID))

	failures, err = db.NetworkFailuresFor(ctx, models.KindText, messageID)
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestScanThreadConflicts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	threadID, err := db.ThreadIDFor(ctx, singleRecipient())
	require.NoError(t, err)

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	mismatch := models.IdentityKeyMismatch{RecipientID: 101, IdentityKey: "stale-key"}

	textID, err := db.InsertOutgoingText(ctx, &models.OutgoingTextMessage{
		Recipients: singleRecipient(),
		Body:       "second",
		SentAt:     base.Add(time.Minute),
	}, threadID)
	require.NoError(t, err)
	require.NoError(t, db.SaveMismatch(ctx, models.KindText, textID, mismatch))

	mediaID, err := db.InsertOutgoingMedia(ctx, &models.OutgoingMediaMessage{
		Recipients:  singleRecipient(),
		Body:        "first",
		ContentType: "image/png",
		SentAt:      base,
	}, threadID)
	require.NoError(t, err)
	require.NoError(t, db.SaveMismatch(ctx, models.KindMedia, mediaID, mismatch))

	// Unconflicted message in the same thread must not appear.
	_, err = db.InsertOutgoingText(ctx, &models.OutgoingTextMessage{
		Recipients: singleRecipient(),
		Body:       "clean",
		SentAt:     base.Add(2 * time.Minute),
	}, threadID)
	require.NoError(t, err)

	// Conflicted message in another thread must not appear either.
	otherThread, err := db.ThreadIDFor(ctx, groupRecipients())
	require.NoError(t, err)
	otherID, err := db.InsertOutgoingText(ctx, &models.OutgoingTextMessage{
		Recipients: groupRecipients(),
		Body:       "elsewhere",
		SentAt:     base,
	}, otherThread)
	require.NoError(t, err)
	require.NoError(t, db.SaveMismatch(ctx, models.KindText, otherID, mismatch))

	cursor, err := db.ScanThreadConflicts(ctx, threadID)
	require.NoError(t, err)
	defer func() { _ = cursor.Close() }()

	first, err := cursor.Next()
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, models.KindMedia, first.Kind)
	assert.Equal(t, mediaID, first.ID)
	assert.Equal(t, "first", first.Body)
	require.Len(t, first.Mismatches, 1)
	assert.True(t, mismatch.Equal(first.Mismatches[0]))
	assert.False(t, first.Recipients.IsEmpty())

	second, err := cursor.Next()
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, models.KindText, second.Kind)
	assert.Equal(t, textID, second.ID)

	done, err := cursor.Next()
	require.NoError(t, err)
	assert.Nil(t, done)
}

func TestScanThreadConflictsMissingRecipients(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	threadID, err := db.ThreadIDFor(ctx, singleRecipient())
	require.NoError(t, err)

	messageID, err := db.InsertOutgoingText(ctx, &models.OutgoingTextMessage{
		Recipients: singleRecipient(),
		Body:       "orphaned",
	}, threadID)
	require.NoError(t, err)
	require.NoError(t, db.SaveMismatch(ctx, models.KindText, messageID,
		models.IdentityKeyMismatch{RecipientID: 101, IdentityKey: "stale-key"}))

	_, err = db.db.ExecContext(ctx,
		"DELETE FROM message_recipients WHERE message_kind = ? AND message_id = ?",
		string(models.KindText), messageID)
	require.NoError(t, err)

	cursor, err := db.ScanThreadConflicts(ctx, threadID)
	require.NoError(t, err)
	defer func() { _ = cursor.Close() }()

	record, err := cursor.Next()
	require.Error(t, err)
	assert.Nil(t, record)
}
