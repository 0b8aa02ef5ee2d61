package database

import (
	"context"
	"database/sql"
	"fmt"

	"securetext/internal/models"
)

// SaveMismatch attaches an identity-conflict annotation to a record. A
// recipient carries at most one mismatch per record; a newer key replaces
// the old one.
func (d *Database) SaveMismatch(ctx context.Context, kind models.MessageKind, messageID int64, mismatch models.IdentityKeyMismatch) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, insertMismatchQuery,
			string(kind), messageID, mismatch.RecipientID, mismatch.IdentityKey)
		return err
	}, "save identity mismatch")
}

// ClearMismatch removes the (recipient, key) mismatch from a record and
// reports whether a row was actually deleted. The reconciler keys its
// idempotence off the return value: an already-cleared record enqueues
// nothing on a repeat accept.
func (d *Database) ClearMismatch(ctx context.Context, kind models.MessageKind, messageID int64, mismatch models.IdentityKeyMismatch) (bool, error) {
	var cleared bool
	err := retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, deleteMismatchQuery,
			string(kind), messageID, mismatch.RecipientID, mismatch.IdentityKey)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		cleared = affected > 0
		return nil
	}, "clear identity mismatch")
	if err != nil {
		return false, err
	}
	return cleared, nil
}

// MismatchesFor returns the identity-conflict annotations on a record.
func (d *Database) MismatchesFor(ctx context.Context, kind models.MessageKind, messageID int64) ([]models.IdentityKeyMismatch, error) {
	rows, err := d.db.QueryContext(ctx, selectMismatchesQuery, string(kind), messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query mismatches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var mismatches []models.IdentityKeyMismatch
	for rows.Next() {
		var m models.IdentityKeyMismatch
		if err := rows.Scan(&m.RecipientID, &m.IdentityKey); err != nil {
			return nil, fmt.Errorf("failed to scan mismatch: %w", err)
		}
		mismatches = append(mismatches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mismatches: %w", err)
	}

	return mismatches, nil
}

// ClearNetworkFailures drops all transport-failure annotations from a record.
// Resend calls this before re-enqueueing so a message never carries a stale
// terminal state into a fresh delivery attempt.
func (d *Database) ClearNetworkFailures(ctx context.Context, kind models.MessageKind, messageID int64) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, deleteNetworkFailuresQuery, string(kind), messageID)
		return err
	}, "clear network failures")
}

// NetworkFailuresFor returns the transport-failure annotations on a record.
func (d *Database) NetworkFailuresFor(ctx context.Context, kind models.MessageKind, messageID int64) ([]models.NetworkFailure, error) {
	rows, err := d.db.QueryContext(ctx, selectNetworkFailuresQuery, string(kind), messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query network failures: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var failures []models.NetworkFailure
	for rows.Next() {
		var f models.NetworkFailure
		if err := rows.Scan(&f.RecipientID); err != nil {
			return nil, fmt.Errorf("failed to scan network failure: %w", err)
		}
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read network failures: %w", err)
	}

	return failures, nil
}

func (d *Database) loadAnnotations(ctx context.Context, record *models.MessageRecord) error {
	mismatches, err := d.MismatchesFor(ctx, record.Kind, record.ID)
	if err != nil {
		return err
	}
	record.Mismatches = mismatches

	failures, err := d.NetworkFailuresFor(ctx, record.Kind, record.ID)
	if err != nil {
		return err
	}
	record.NetworkFailures = failures
	return nil
}

// ConflictCursor is a single-pass cursor over a thread's identity-conflicted
// messages. Close must be called whether or not the sweep completes; Next
// returns (nil, nil) at exhaustion.
type ConflictCursor interface {
	Next() (*models.MessageRecord, error)
	Close() error
}

type conflictReader struct {
	ctx  context.Context
	d    *Database
	rows *sql.Rows
}

// ScanThreadConflicts opens a cursor over every message in the thread, of
// either kind, that carries at least one identity mismatch.
func (d *Database) ScanThreadConflicts(ctx context.Context, threadID int64) (ConflictCursor, error) {
	rows, err := d.db.QueryContext(ctx, selectThreadConflictsQuery, threadID, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to scan thread conflicts: %w", err)
	}
	return &conflictReader{ctx: ctx, d: d, rows: rows}, nil
}

func (r *conflictReader) Next() (*models.MessageRecord, error) {
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return nil, fmt.Errorf("conflict cursor failed: %w", err)
		}
		return nil, nil
	}

	var (
		kind              string
		record            models.MessageRecord
		direction, status string
		body              sql.NullString
		mediaPath         sql.NullString
		contentType       sql.NullString
		dist              int
		receivedAt        sql.NullTime
	)

	if err := r.rows.Scan(&kind, &record.ID, &record.ThreadID, &direction, &status,
		&body, &mediaPath, &contentType, &dist,
		&record.RecipientDeviceID, &record.SentAt, &receivedAt); err != nil {
		return nil, fmt.Errorf("failed to scan conflicted record: %w", err)
	}

	record.Kind = models.MessageKind(kind)
	record.Direction = models.Direction(direction)
	record.Status = models.MessageStatus(status)
	record.DistributionType = models.DistributionType(dist)
	if mediaPath.Valid {
		record.MediaPath = &mediaPath.String
	}
	record.ContentType = contentType.String
	if receivedAt.Valid {
		record.ReceivedAt = receivedAt.Time
	}

	if body.Valid {
		plain, err := r.d.encryptor.DecryptIfEnabled(body.String)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt body: %w", err)
		}
		record.Body = plain
	}

	if err := r.d.loadAnnotations(r.ctx, &record); err != nil {
		return nil, err
	}

	recipients, err := r.d.RecipientsFor(r.ctx, record.Kind, record.ID)
	if err != nil {
		return nil, err
	}
	record.Recipients = recipients

	return &record, nil
}

func (r *conflictReader) Close() error {
	return r.rows.Close()
}
