package database

import (
	"context"
	"database/sql"
	"fmt"
)

// SaveAcceptedIdentity durably records the trusted identity key for a
// recipient. Re-accepting the same key is a no-op thereafter.
func (d *Database) SaveAcceptedIdentity(ctx context.Context, recipientID int64, identityKey string) error {
	if identityKey == "" {
		return fmt.Errorf("identity key cannot be empty")
	}

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, saveIdentityQuery, recipientID, identityKey)
		return err
	}, "save accepted identity")
}

// AcceptedIdentity returns the currently trusted key for a recipient, or
// empty when none has been accepted.
func (d *Database) AcceptedIdentity(ctx context.Context, recipientID int64) (string, error) {
	var key string
	err := d.db.QueryRowContext(ctx, selectIdentityQuery, recipientID).Scan(&key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get accepted identity: %w", err)
	}
	return key, nil
}
