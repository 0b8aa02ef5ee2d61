package service

import (
	"context"

	"securetext/internal/database"
	apperrors "securetext/internal/errors"
	"securetext/internal/metrics"
	"securetext/internal/models"
	"securetext/internal/privacy"
	"securetext/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// RecordStore is the record store facade consumed by the delivery core.
type RecordStore interface {
	ThreadIDFor(ctx context.Context, recipients models.RecipientSet) (int64, error)
	ThreadIDForDistribution(ctx context.Context, recipients models.RecipientSet, dist models.DistributionType) (int64, error)
	InsertOutgoingText(ctx context.Context, msg *models.OutgoingTextMessage, threadID int64) (int64, error)
	InsertOutgoingMedia(ctx context.Context, msg *models.OutgoingMediaMessage, threadID int64) (int64, error)
	RecipientsFor(ctx context.Context, kind models.MessageKind, messageID int64) (models.RecipientSet, error)
	ClearMismatch(ctx context.Context, kind models.MessageKind, messageID int64, mismatch models.IdentityKeyMismatch) (bool, error)
	ClearNetworkFailures(ctx context.Context, kind models.MessageKind, messageID int64) error
	ScanThreadConflicts(ctx context.Context, threadID int64) (database.ConflictCursor, error)
	InsertIncomingEnvelope(ctx context.Context, env *models.PushEnvelope) (int64, error)
}

// JobQueue accepts delivery and decryption work. Both calls are
// fire-and-forget: nothing here waits for transport execution.
type JobQueue interface {
	EnqueueDelivery(ctx context.Context, task models.DeliveryTask) error
	EnqueueDecrypt(ctx context.Context, task models.DecryptTask) error
}

// Directory answers whether a recipient can receive encrypted push messages.
type Directory interface {
	IsPushCapable(ctx context.Context, recipient models.Recipient) (bool, error)
}

// Sender owns dispatch and resend: it persists outgoing messages, picks a
// transport and hands durable delivery tasks to the queue.
type Sender struct {
	store     RecordStore
	queue     JobQueue
	directory Directory
	logger    *logrus.Logger
}

func NewSender(store RecordStore, queue JobQueue, directory Directory, logger *logrus.Logger) *Sender {
	return &Sender{
		store:     store,
		queue:     queue,
		directory: directory,
		logger:    logger,
	}
}

// SendText persists a composed text message and enqueues its first delivery
// attempt. Returns the owning thread id; when threadID is
// models.UnassignedThread the thread is derived from the recipient set.
func (s *Sender) SendText(ctx context.Context, msg *models.OutgoingTextMessage, threadID int64, forceSMS bool) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "sender.SendText",
		attribute.Bool("force_sms", forceSMS))
	defer span.End()

	if msg.Recipients.IsEmpty() {
		return threadID, apperrors.NewValidationError("recipients", "", "message has no recipients")
	}

	allocatedThreadID := threadID
	if threadID == models.UnassignedThread {
		var err error
		allocatedThreadID, err = s.store.ThreadIDFor(ctx, msg.Recipients)
		if err != nil {
			tracing.RecordError(ctx, err)
			return threadID, apperrors.NewDispatchError(string(models.KindText), err)
		}
	}

	messageID, err := s.store.InsertOutgoingText(ctx, msg, allocatedThreadID)
	if err != nil {
		tracing.RecordError(ctx, err)
		return allocatedThreadID, apperrors.NewDispatchError(string(models.KindText), err)
	}

	taskKind := s.selectTransport(ctx, models.KindText, msg.Recipients, forceSMS)
	if err := s.enqueueDelivery(ctx, taskKind, models.KindText, messageID, msg.Recipients); err != nil {
		tracing.RecordError(ctx, err)
		return allocatedThreadID, err
	}

	return allocatedThreadID, nil
}

// SendMedia persists a composed media message and enqueues its first
// delivery attempt. The distribution type participates in thread derivation.
// On persistence failure the dispatch is abandoned and the candidate thread
// id is returned unchanged alongside the error.
func (s *Sender) SendMedia(ctx context.Context, msg *models.OutgoingMediaMessage, threadID int64, forceSMS bool) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "sender.SendMedia",
		attribute.Bool("force_sms", forceSMS))
	defer span.End()

	if msg.Recipients.IsEmpty() {
		return threadID, apperrors.NewValidationError("recipients", "", "message has no recipients")
	}

	allocatedThreadID := threadID
	if threadID == models.UnassignedThread {
		var err error
		allocatedThreadID, err = s.store.ThreadIDForDistribution(ctx, msg.Recipients, msg.DistributionType)
		if err != nil {
			tracing.RecordError(ctx, err)
			return threadID, apperrors.NewDispatchError(string(models.KindMedia), err)
		}
	}

	messageID, err := s.store.InsertOutgoingMedia(ctx, msg, allocatedThreadID)
	if err != nil {
		dispatchErr := apperrors.NewDispatchError(string(models.KindMedia), err)
		s.logger.WithError(dispatchErr).Warn("Media dispatch abandoned")
		tracing.RecordError(ctx, dispatchErr)
		return allocatedThreadID, dispatchErr
	}

	taskKind := s.selectTransport(ctx, models.KindMedia, msg.Recipients, forceSMS)
	if err := s.enqueueDelivery(ctx, taskKind, models.KindMedia, messageID, msg.Recipients); err != nil {
		tracing.RecordError(ctx, err)
		return allocatedThreadID, err
	}

	return allocatedThreadID, nil
}

// Resend re-enqueues delivery for an already-persisted outgoing record. The
// record is never re-inserted; transport selection is re-evaluated because
// push availability or group membership may have changed since first send.
func (s *Sender) Resend(ctx context.Context, record *models.MessageRecord) error {
	ctx, span := tracing.StartSpan(ctx, "sender.Resend",
		attribute.Int64("message_id", record.ID),
		attribute.String("message_kind", string(record.Kind)))
	defer span.End()

	if !record.IsOutgoing() {
		return apperrors.NewValidationError("direction", string(record.Direction), "only outgoing records can be resent")
	}

	recipients := record.Recipients
	if record.IsMedia() {
		var err error
		recipients, err = s.store.RecipientsFor(ctx, models.KindMedia, record.ID)
		if err != nil {
			// The record keeps its failed state; the user can retry.
			s.logger.WithError(err).WithField("message_id", record.ID).Warn("Resend abandoned, recipient lookup failed")
			tracing.RecordError(ctx, err)
			return apperrors.NewDatabaseError("recipient lookup", err)
		}
	}

	if recipients.IsEmpty() {
		// A persisted outgoing record always has recipients; an empty set
		// here means the stored state is damaged, not that the input was bad.
		err := apperrors.NewCorruptStateError("outgoing record has no recipients", nil).
			WithContext("message_id", record.ID)
		s.logger.WithError(err).WithField("message_id", record.ID).Warn("Resend abandoned, record has no recipients")
		tracing.RecordError(ctx, err)
		return err
	}

	taskKind := s.selectTransport(ctx, record.Kind, recipients, false)

	if taskKind == models.TaskSendPushGroup {
		// Push group resend is not implemented; keep it observable rather
		// than pretending the message went back out.
		s.logger.WithFields(logrus.Fields{
			"message_id": record.ID,
			"thread_id":  record.ThreadID,
		}).Warn("Push group resend is not supported, leaving message untouched")
		metrics.IncrementCounter("delivery_resend_unsupported", nil, "Resends skipped on the unsupported push group path")
		return nil
	}

	if err := s.store.ClearNetworkFailures(ctx, record.Kind, record.ID); err != nil {
		s.logger.WithError(err).WithField("message_id", record.ID).Warn("Resend abandoned, could not clear failure annotations")
		tracing.RecordError(ctx, err)
		return apperrors.NewDatabaseError("clear network failures", err)
	}

	if err := s.enqueueDelivery(ctx, taskKind, record.Kind, record.ID, recipients); err != nil {
		tracing.RecordError(ctx, err)
		return err
	}

	metrics.IncrementCounter("delivery_resent", map[string]string{"task": string(taskKind)}, "Messages re-enqueued for delivery")
	return nil
}

func (s *Sender) enqueueDelivery(ctx context.Context, taskKind models.TaskKind, kind models.MessageKind, messageID int64, recipients models.RecipientSet) error {
	task := models.DeliveryTask{
		Kind:        taskKind,
		MessageID:   messageID,
		MessageKind: kind,
		Destination: recipients.Primary().Number,
	}

	if err := s.queue.EnqueueDelivery(ctx, task); err != nil {
		return err
	}

	metrics.IncrementCounter("delivery_dispatched", map[string]string{"task": string(taskKind)}, "Delivery tasks handed to the queue")
	s.logger.WithFields(logrus.Fields{
		"message_id":  messageID,
		"task":        taskKind,
		"destination": privacy.MaskPhoneNumber(task.Destination),
		"group":       recipients.IsGroup(),
	}).Info("Enqueued delivery task")

	return nil
}

// selectTransport re-evaluates push availability on every call; cached
// answers would miss recipients drifting in or out of push coverage.
func (s *Sender) selectTransport(ctx context.Context, kind models.MessageKind, recipients models.RecipientSet, forceSMS bool) models.TaskKind {
	push := false
	if !forceSMS {
		push = s.pushAvailable(ctx, recipients)
	}
	return SelectTaskKind(kind, recipients.IsGroup(), push, forceSMS)
}

// pushAvailable requires every member of the set to be push-capable.
// Directory failures degrade to the carrier path rather than blocking send.
func (s *Sender) pushAvailable(ctx context.Context, recipients models.RecipientSet) bool {
	for _, r := range recipients.Recipients {
		capable, err := s.directory.IsPushCapable(ctx, r)
		if err != nil {
			s.logger.WithError(err).WithField("recipient", privacy.MaskPhoneNumber(r.Number)).
				Warn("Directory lookup failed, falling back to carrier transport")
			return false
		}
		if !capable {
			return false
		}
	}
	return true
}
