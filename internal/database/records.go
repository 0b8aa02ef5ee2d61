package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"securetext/internal/models"
)

// ThreadIDFor resolves the conversation for a recipient set, creating the
// thread lazily on first use. Derivation is deterministic: the same set (in
// any order) always maps to the same thread.
func (d *Database) ThreadIDFor(ctx context.Context, recipients models.RecipientSet) (int64, error) {
	return d.ThreadIDForDistribution(ctx, recipients, models.DistributionDefault)
}

// ThreadIDForDistribution is the media-path variant: the distribution type
// participates in derivation so a broadcast and a conversation to the same
// members get distinct threads.
func (d *Database) ThreadIDForDistribution(ctx context.Context, recipients models.RecipientSet, dist models.DistributionType) (int64, error) {
	if recipients.IsEmpty() {
		return 0, fmt.Errorf("cannot derive thread for empty recipient set")
	}

	key := recipients.Key()

	var threadID int64
	err := retryableDBOperation(ctx, func() error {
		if _, err := d.db.ExecContext(ctx, insertThreadQuery, key, int(dist)); err != nil {
			return err
		}
		return d.db.QueryRowContext(ctx, selectThreadIDQuery, key, int(dist)).Scan(&threadID)
	}, "thread lookup")
	if err != nil {
		return 0, err
	}

	return threadID, nil
}

// InsertOutgoingText persists a composed text message in outbox state and
// returns the new message id.
func (d *Database) InsertOutgoingText(ctx context.Context, msg *models.OutgoingTextMessage, threadID int64) (int64, error) {
	body, err := d.encryptor.EncryptIfEnabled(msg.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt body: %w", err)
	}

	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}

	var messageID int64
	err = d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, insertTextMessageQuery,
			threadID, string(models.DirectionOutgoing), string(models.StatusOutbox),
			body, msg.Recipients.Primary().DeviceID, sentAt)
		if err != nil {
			return fmt.Errorf("failed to insert text message: %w", err)
		}
		messageID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read inserted message id: %w", err)
		}
		return insertRecipients(ctx, tx, models.KindText, messageID, msg.Recipients)
	})
	if err != nil {
		return 0, err
	}

	return messageID, nil
}

// InsertOutgoingMedia persists a composed media message in outbox state and
// returns the new message id.
func (d *Database) InsertOutgoingMedia(ctx context.Context, msg *models.OutgoingMediaMessage, threadID int64) (int64, error) {
	body, err := d.encryptor.EncryptIfEnabled(msg.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt body: %w", err)
	}

	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}

	var mediaPath *string
	if msg.MediaPath != "" {
		mediaPath = &msg.MediaPath
	}

	var messageID int64
	err = d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, insertMediaMessageQuery,
			threadID, string(models.DirectionOutgoing), string(models.StatusOutbox),
			body, mediaPath, msg.ContentType, int(msg.DistributionType),
			msg.Recipients.Primary().DeviceID, sentAt)
		if err != nil {
			return fmt.Errorf("failed to insert media message: %w", err)
		}
		messageID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read inserted message id: %w", err)
		}
		return insertRecipients(ctx, tx, models.KindMedia, messageID, msg.Recipients)
	})
	if err != nil {
		return 0, err
	}

	return messageID, nil
}

func insertRecipients(ctx context.Context, tx *sql.Tx, kind models.MessageKind, messageID int64, recipients models.RecipientSet) error {
	for _, r := range recipients.Recipients {
		if _, err := tx.ExecContext(ctx, insertMessageRecipientQuery,
			string(kind), messageID, r.ID, r.Number, r.DeviceID); err != nil {
			return fmt.Errorf("failed to insert message recipient: %w", err)
		}
	}
	return nil
}

// RecipientsFor returns the current recipient set of a message. Media resend
// reads through this rather than trusting the in-memory record, because
// group membership may have changed since the original send.
func (d *Database) RecipientsFor(ctx context.Context, kind models.MessageKind, messageID int64) (models.RecipientSet, error) {
	rows, err := d.db.QueryContext(ctx, selectMessageRecipientsQuery, string(kind), messageID)
	if err != nil {
		return models.RecipientSet{}, fmt.Errorf("failed to query message recipients: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var set models.RecipientSet
	for rows.Next() {
		var r models.Recipient
		if err := rows.Scan(&r.ID, &r.Number, &r.DeviceID); err != nil {
			return models.RecipientSet{}, fmt.Errorf("failed to scan recipient: %w", err)
		}
		set.Recipients = append(set.Recipients, r)
	}
	if err := rows.Err(); err != nil {
		return models.RecipientSet{}, fmt.Errorf("failed to read recipients: %w", err)
	}
	if set.IsEmpty() {
		return set, fmt.Errorf("no recipients found for %s message %d", kind, messageID)
	}

	return set, nil
}

// GetMessageRecord loads a full record including annotations and recipients.
func (d *Database) GetMessageRecord(ctx context.Context, kind models.MessageKind, messageID int64) (*models.MessageRecord, error) {
	record := &models.MessageRecord{ID: messageID, Kind: kind}

	var (
		direction, status string
		body              sql.NullString
		receivedAt        sql.NullTime
	)

	switch kind {
	case models.KindText:
		err := d.db.QueryRowContext(ctx, selectTextMessageQuery, messageID).Scan(
			&record.ID, &record.ThreadID, &direction, &status, &body,
			&record.RecipientDeviceID, &record.SentAt, &receivedAt)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get text message: %w", err)
		}
	case models.KindMedia:
		var (
			mediaPath   sql.NullString
			contentType sql.NullString
			dist        int
		)
		err := d.db.QueryRowContext(ctx, selectMediaMessageQuery, messageID).Scan(
			&record.ID, &record.ThreadID, &direction, &status, &body,
			&mediaPath, &contentType, &dist,
			&record.RecipientDeviceID, &record.SentAt, &receivedAt)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get media message: %w", err)
		}
		if mediaPath.Valid {
			record.MediaPath = &mediaPath.String
		}
		record.ContentType = contentType.String
		record.DistributionType = models.DistributionType(dist)
	default:
		return nil, fmt.Errorf("unknown message kind: %s", kind)
	}

	record.Direction = models.Direction(direction)
	record.Status = models.MessageStatus(status)
	if receivedAt.Valid {
		record.ReceivedAt = receivedAt.Time
	}

	if body.Valid {
		plain, err := d.encryptor.DecryptIfEnabled(body.String)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt body: %w", err)
		}
		record.Body = plain
	}

	if err := d.loadAnnotations(ctx, record); err != nil {
		return nil, err
	}

	recipients, err := d.RecipientsFor(ctx, kind, messageID)
	if err != nil {
		return nil, err
	}
	record.Recipients = recipients

	return record, nil
}

// MarkSent moves an outgoing record out of outbox state after its delivery
// task completes.
func (d *Database) MarkSent(ctx context.Context, kind models.MessageKind, messageID int64) error {
	return d.updateStatus(ctx, kind, messageID, models.StatusSent)
}

// MarkFailed flags the record and annotates the failing recipient with a
// NetworkFailure, unless that recipient already carries an identity
// mismatch for this record: the mismatch takes precedence.
func (d *Database) MarkFailed(ctx context.Context, kind models.MessageKind, messageID int64, failure models.NetworkFailure) error {
	mismatches, err := d.MismatchesFor(ctx, kind, messageID)
	if err != nil {
		return err
	}
	for _, m := range mismatches {
		if m.RecipientID == failure.RecipientID {
			return d.updateStatus(ctx, kind, messageID, models.StatusFailed)
		}
	}

	err = retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, insertNetworkFailureQuery, string(kind), messageID, failure.RecipientID)
		return err
	}, "record network failure")
	if err != nil {
		return err
	}

	return d.updateStatus(ctx, kind, messageID, models.StatusFailed)
}

func (d *Database) updateStatus(ctx context.Context, kind models.MessageKind, messageID int64, status models.MessageStatus) error {
	query := updateTextStatusQuery
	if kind == models.KindMedia {
		query = updateMediaStatusQuery
	}

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, string(status), messageID)
		return err
	}, "update message status")
}

// CountStaleOutbox counts outgoing messages that have been sitting in outbox
// state longer than the threshold.
func (d *Database) CountStaleOutbox(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	var count int
	err := d.db.QueryRowContext(ctx, countStaleOutboxQuery, cutoff, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count stale outbox messages: %w", err)
	}
	return count, nil
}
