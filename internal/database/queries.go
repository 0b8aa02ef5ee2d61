package database

// Thread queries
const (
	insertThreadQuery = `
		INSERT OR IGNORE INTO threads (recipient_key, distribution_type)
		VALUES (?, ?)
	`

	selectThreadIDQuery = `
		SELECT id FROM threads
		WHERE recipient_key = ? AND distribution_type = ?
	`
)

// Message record queries
const (
	insertTextMessageQuery = `
		INSERT INTO text_messages (thread_id, direction, status, body, recipient_device_id, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	insertMediaMessageQuery = `
		INSERT INTO media_messages (
			thread_id, direction, status, body, media_path, content_type,
			distribution_type, recipient_device_id, sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	insertMessageRecipientQuery = `
		INSERT OR REPLACE INTO message_recipients (message_kind, message_id, recipient_id, number, device_id)
		VALUES (?, ?, ?, ?, ?)
	`

	selectMessageRecipientsQuery = `
		SELECT recipient_id, number, device_id
		FROM message_recipients
		WHERE message_kind = ? AND message_id = ?
		ORDER BY recipient_id
	`

	selectTextMessageQuery = `
		SELECT id, thread_id, direction, status, body, recipient_device_id, sent_at, received_at
		FROM text_messages
		WHERE id = ?
	`

	selectMediaMessageQuery = `
		SELECT id, thread_id, direction, status, body, media_path, content_type,
		       distribution_type, recipient_device_id, sent_at, received_at
		FROM media_messages
		WHERE id = ?
	`

	updateTextStatusQuery = `
		UPDATE text_messages SET status = ? WHERE id = ?
	`

	updateMediaStatusQuery = `
		UPDATE media_messages SET status = ? WHERE id = ?
	`

	countStaleOutboxQuery = `
		SELECT
			(SELECT COUNT(*) FROM text_messages
			 WHERE direction = 'outgoing' AND status = 'outbox' AND created_at < ?)
			+
			(SELECT COUNT(*) FROM media_messages
			 WHERE direction = 'outgoing' AND status = 'outbox' AND created_at < ?)
	`
)

// Annotation queries
const (
	insertMismatchQuery = `
		INSERT OR REPLACE INTO identity_mismatches (message_kind, message_id, recipient_id, identity_key)
		VALUES (?, ?, ?, ?)
	`

	deleteMismatchQuery = `
		DELETE FROM identity_mismatches
		WHERE message_kind = ? AND message_id = ? AND recipient_id = ? AND identity_key = ?
	`

	selectMismatchesQuery = `
		SELECT recipient_id, identity_key
		FROM identity_mismatches
		WHERE message_kind = ? AND message_id = ?
		ORDER BY recipient_id
	`

	insertNetworkFailureQuery = `
		INSERT OR REPLACE INTO network_failures (message_kind, message_id, recipient_id)
		VALUES (?, ?, ?)
	`

	deleteNetworkFailuresQuery = `
		DELETE FROM network_failures
		WHERE message_kind = ? AND message_id = ?
	`

	selectNetworkFailuresQuery = `
		SELECT recipient_id
		FROM network_failures
		WHERE message_kind = ? AND message_id = ?
		ORDER BY recipient_id
	`
)

// Conflict sweep: every message in the thread, either kind, that carries at
// least one identity mismatch.
const selectThreadConflictsQuery = `
	SELECT 'text' AS kind, m.id, m.thread_id, m.direction, m.status, m.body,
	       NULL AS media_path, NULL AS content_type, 0 AS distribution_type,
	       m.recipient_device_id, m.sent_at, m.received_at
	FROM text_messages m
	WHERE m.thread_id = ?
	  AND EXISTS (SELECT 1 FROM identity_mismatches im
	              WHERE im.message_kind = 'text' AND im.message_id = m.id)
	UNION ALL
	SELECT 'media' AS kind, m.id, m.thread_id, m.direction, m.status, m.body,
	       m.media_path, m.content_type, m.distribution_type,
	       m.recipient_device_id, m.sent_at, m.received_at
	FROM media_messages m
	WHERE m.thread_id = ?
	  AND EXISTS (SELECT 1 FROM identity_mismatches im
	              WHERE im.message_kind = 'media' AND im.message_id = m.id)
	ORDER BY sent_at
`

// Envelope and identity queries
const (
	insertEnvelopeQuery = `
		INSERT INTO push_envelopes (type, source, source_device, relay, timestamp, content)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	selectEnvelopeQuery = `
		SELECT id, type, source, source_device, relay, timestamp, content
		FROM push_envelopes
		WHERE id = ?
	`

	saveIdentityQuery = `
		INSERT OR REPLACE INTO identities (recipient_id, identity_key, accepted_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
	`

	selectIdentityQuery = `
		SELECT identity_key FROM identities WHERE recipient_id = ?
	`
)

// Job queue queries
const (
	insertJobQuery = `
		INSERT INTO jobs (token, kind, payload, max_attempts, status, next_attempt_at)
		VALUES (?, ?, ?, ?, 'queued', ?)
	`

	selectDueJobIDsQuery = `
		SELECT id FROM jobs
		WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY id
		LIMIT ?
	`

	claimJobQuery = `
		UPDATE jobs SET status = 'running', attempts = attempts + 1
		WHERE id = ? AND status = 'queued'
	`

	selectJobQuery = `
		SELECT id, token, kind, payload, attempts, max_attempts, status,
		       COALESCE(last_error, ''), next_attempt_at, created_at, updated_at
		FROM jobs
		WHERE id = ?
	`

	markJobDoneQuery = `
		UPDATE jobs SET status = 'done' WHERE id = ?
	`

	failJobQuery = `
		UPDATE jobs SET status = 'queued', last_error = ?, next_attempt_at = ?
		WHERE id = ?
	`

	markJobDeadQuery = `
		UPDATE jobs SET status = 'dead', last_error = ? WHERE id = ?
	`

	requeueStaleJobsQuery = `
		UPDATE jobs SET status = 'queued', next_attempt_at = NULL
		WHERE status = 'running' AND updated_at < ?
	`
)
