package service

import (
	"context"
	"encoding/base64"

	apperrors "securetext/internal/errors"
	"securetext/internal/metrics"
	"securetext/internal/models"
	"securetext/internal/privacy"
	"securetext/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// IdentityStore durably records accepted identity keys.
type IdentityStore interface {
	SaveAcceptedIdentity(ctx context.Context, recipientID int64, identityKey string) error
}

// Resender re-enqueues delivery for an existing record.
type Resender interface {
	Resend(ctx context.Context, record *models.MessageRecord) error
}

// Reconciler resolves identity-key conflicts: accepting one key unblocks
// every message in the thread stuck on that same stale key, not just the one
// the user acted on.
type Reconciler struct {
	store      RecordStore
	identities IdentityStore
	queue      JobQueue
	resender   Resender
	logger     *apperrors.Logger
}

func NewReconciler(store RecordStore, identities IdentityStore, queue JobQueue, resender Resender, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		store:      store,
		identities: identities,
		queue:      queue,
		resender:   resender,
		logger:     apperrors.WrapLogger(logger),
	}
}

// AcceptIdentity durably trusts the mismatched key, reconciles the
// triggering record, then sweeps the rest of the thread for records blocked
// on an identical (recipient, key) conflict. Each swept record is processed
// in isolation: one record's failure is logged and counted but never stops
// the remainder. A failure on the triggering record itself is still
// returned to the caller after the sweep completes.
func (r *Reconciler) AcceptIdentity(ctx context.Context, record *models.MessageRecord, mismatch models.IdentityKeyMismatch) error {
	ctx, span := tracing.StartSpan(ctx, "reconciler.AcceptIdentity",
		attribute.Int64("thread_id", record.ThreadID),
		attribute.Int64("message_id", record.ID))
	defer span.End()

	if err := r.identities.SaveAcceptedIdentity(ctx, mismatch.RecipientID, mismatch.IdentityKey); err != nil {
		tracing.RecordError(ctx, err)
		return apperrors.NewDatabaseError("save accepted identity", err)
	}

	r.logger.WithFields(logrus.Fields{
		"recipient":    privacy.MaskRecipientID(mismatch.RecipientID),
		"identity_key": privacy.MaskIdentityKey(mismatch.IdentityKey),
		"thread_id":    record.ThreadID,
	}).Info("Accepted identity key")

	triggerErr := r.processRecord(ctx, record, mismatch)
	if triggerErr != nil {
		r.logger.LogError(triggerErr, "Failed to reconcile triggering record", logrus.Fields{"message_id": record.ID})
		tracing.RecordError(ctx, triggerErr)
	}

	if err := r.sweepThread(ctx, record, mismatch); err != nil {
		tracing.RecordError(ctx, err)
		if triggerErr == nil {
			return err
		}
	}

	return triggerErr
}

// AcceptIdentityAsync runs AcceptIdentity off the calling goroutine.
// Outcomes surface through store state, metrics and logs, never through the
// UI-facing call site.
func (r *Reconciler) AcceptIdentityAsync(record *models.MessageRecord, mismatch models.IdentityKeyMismatch) {
	go func() {
		if err := r.AcceptIdentity(context.Background(), record, mismatch); err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"message_id": record.ID,
				"thread_id":  record.ThreadID,
			}).Error("Identity reconciliation failed")
		}
	}()
}

// sweepThread walks the thread's conflicted records over a single cursor.
// The cursor is closed whether or not the sweep completes.
func (r *Reconciler) sweepThread(ctx context.Context, trigger *models.MessageRecord, mismatch models.IdentityKeyMismatch) error {
	reader, err := r.store.ScanThreadConflicts(ctx, trigger.ThreadID)
	if err != nil {
		return apperrors.NewDatabaseError("scan thread conflicts", err)
	}
	defer func() {
		if closeErr := reader.Close(); closeErr != nil {
			r.logger.WithError(closeErr).Warn("Failed to close conflict cursor")
		}
	}()

	for {
		rec, err := reader.Next()
		if err != nil {
			return apperrors.NewDatabaseError("read conflicted record", err)
		}
		if rec == nil {
			return nil
		}
		if rec.Kind == trigger.Kind && rec.ID == trigger.ID {
			continue
		}

		for _, recordMismatch := range rec.Mismatches {
			if !mismatch.Equal(recordMismatch) {
				continue
			}
			if err := r.processRecord(ctx, rec, mismatch); err != nil {
				r.logger.LogError(err, "Failed to reconcile swept record", logrus.Fields{
					"message_id":   rec.ID,
					"message_kind": rec.Kind,
				})
				metrics.IncrementCounter("reconcile_record_failures", nil, "Records that failed identity reconciliation")
			}
			break
		}
	}
}

// processRecord clears the conflict annotation and re-dispatches the record:
// outgoing messages are resent, incoming ones are routed back through
// decryption. A record whose mismatch is already gone is skipped, so
// repeating an accept never enqueues duplicate work.
func (r *Reconciler) processRecord(ctx context.Context, rec *models.MessageRecord, mismatch models.IdentityKeyMismatch) error {
	cleared, err := r.store.ClearMismatch(ctx, rec.Kind, rec.ID, mismatch)
	if err != nil {
		return apperrors.NewDatabaseError("clear identity mismatch", err)
	}
	if !cleared {
		r.logger.WithFields(logrus.Fields{
			"message_id": rec.ID,
			"recipient":  privacy.MaskRecipientID(mismatch.RecipientID),
		}).Debug("Mismatch already cleared, skipping")
		return nil
	}

	if rec.IsOutgoing() {
		if err := r.resender.Resend(ctx, rec); err != nil {
			return err
		}
		metrics.IncrementCounter("reconcile_resent", nil, "Outgoing records resent after identity acceptance")
		return nil
	}

	return r.redeliverIncoming(ctx, rec)
}

// redeliverIncoming rebuilds the push envelope from the stored ciphertext
// and enqueues it for decryption. The ciphertext was validated when the
// record was accepted into the store, so a decode failure here means the
// stored state is corrupt, not that the operation should be retried.
func (r *Reconciler) redeliverIncoming(ctx context.Context, rec *models.MessageRecord) error {
	if rec.Recipients.IsEmpty() {
		return apperrors.NewCorruptStateError("incoming record has no sender", nil).
			WithContext("message_id", rec.ID)
	}

	content, err := base64.StdEncoding.DecodeString(rec.Body)
	if err != nil {
		return apperrors.NewCorruptStateError("stored push ciphertext is not valid base64", err).
			WithContext("message_id", rec.ID)
	}

	sender := rec.Recipients.Primary()
	envelope := &models.PushEnvelope{
		Type:         models.EnvelopePreKeyBundle,
		Source:       sender.Number,
		SourceDevice: rec.RecipientDeviceID,
		Timestamp:    rec.SentAt,
		Content:      content,
	}

	envelopeID, err := r.store.InsertIncomingEnvelope(ctx, envelope)
	if err != nil {
		return apperrors.NewDatabaseError("insert incoming envelope", err)
	}

	task := models.DecryptTask{
		EnvelopeID: envelopeID,
		MessageID:  rec.ID,
		Source:     sender.Number,
	}
	if err := r.queue.EnqueueDecrypt(ctx, task); err != nil {
		return err
	}

	metrics.IncrementCounter("reconcile_redecrypted", nil, "Incoming records routed back through decryption")
	return nil
}
