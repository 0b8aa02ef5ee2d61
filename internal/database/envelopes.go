package database

import (
	"context"
	"database/sql"
	"fmt"

	"securetext/internal/models"
)

// InsertIncomingEnvelope stores a reconstructed push envelope for the
// decryption pipeline and returns its id.
func (d *Database) InsertIncomingEnvelope(ctx context.Context, env *models.PushEnvelope) (int64, error) {
	if len(env.Content) == 0 {
		return 0, fmt.Errorf("envelope content cannot be empty")
	}

	res, err := d.db.ExecContext(ctx, insertEnvelopeQuery,
		int(env.Type), env.Source, env.SourceDevice, env.Relay, env.Timestamp, env.Content)
	if err != nil {
		return 0, fmt.Errorf("failed to insert push envelope: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted envelope id: %w", err)
	}
	return id, nil
}

// GetEnvelope loads a stored push envelope by id.
func (d *Database) GetEnvelope(ctx context.Context, id int64) (*models.PushEnvelope, error) {
	env := &models.PushEnvelope{}
	var envType int
	var relay sql.NullString

	err := d.db.QueryRowContext(ctx, selectEnvelopeQuery, id).Scan(
		&env.ID, &envType, &env.Source, &env.SourceDevice, &relay, &env.Timestamp, &env.Content)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get push envelope: %w", err)
	}

	env.Type = models.EnvelopeType(envType)
	env.Relay = relay.String
	return env, nil
}
