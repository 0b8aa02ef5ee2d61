package service

import (
	"context"

	"securetext/internal/database"
	"securetext/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type mockRecordStore struct {
	mock.Mock
}

func (m *mockRecordStore) ThreadIDFor(ctx context.Context, recipients models.RecipientSet) (int64, error) {
	args := m.Called(ctx, recipients)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRecordStore) ThreadIDForDistribution(ctx context.Context, recipients models.RecipientSet, dist models.DistributionType) (int64, error) {
	args := m.Called(ctx, recipients, dist)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRecordStore) InsertOutgoingText(ctx context.Context, msg *models.OutgoingTextMessage, threadID int64) (int64, error) {
	args := m.Called(ctx, msg, threadID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRecordStore) InsertOutgoingMedia(ctx context.Context, msg *models.OutgoingMediaMessage, threadID int64) (int64, error) {
	args := m.Called(ctx, msg, threadID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRecordStore) RecipientsFor(ctx context.Context, kind models.MessageKind, messageID int64) (models.RecipientSet, error) {
	args := m.Called(ctx, kind, messageID)
	return args.Get(0).(models.RecipientSet), args.Error(1)
}

func (m *mockRecordStore) ClearMismatch(ctx context.Context, kind models.MessageKind, messageID int64, mismatch models.IdentityKeyMismatch) (bool, error) {
	args := m.Called(ctx, kind, messageID, mismatch)
	return args.Bool(0), args.Error(1)
}

func (m *mockRecordStore) ClearNetworkFailures(ctx context.Context, kind models.MessageKind, messageID int64) error {
	args := m.Called(ctx, kind, messageID)
	return args.Error(0)
}

func (m *mockRecordStore) ScanThreadConflicts(ctx context.Context, threadID int64) (database.ConflictCursor, error) {
	args := m.Called(ctx, threadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(database.ConflictCursor), args.Error(1)
}

func (m *mockRecordStore) InsertIncomingEnvelope(ctx context.Context, env *models.PushEnvelope) (int64, error) {
	args := m.Called(ctx, env)
	return args.Get(0).(int64), args.Error(1)
}

type mockJobQueue struct {
	mock.Mock
}

func (m *mockJobQueue) EnqueueDelivery(ctx context.Context, task models.DeliveryTask) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *mockJobQueue) EnqueueDecrypt(ctx context.Context, task models.DecryptTask) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) IsPushCapable(ctx context.Context, recipient models.Recipient) (bool, error) {
	args := m.Called(ctx, recipient)
	return args.Bool(0), args.Error(1)
}

type mockIdentityStore struct {
	mock.Mock
}

func (m *mockIdentityStore) SaveAcceptedIdentity(ctx context.Context, recipientID int64, identityKey string) error {
	args := m.Called(ctx, recipientID, identityKey)
	return args.Error(0)
}

type mockResender struct {
	mock.Mock
}

func (m *mockResender) Resend(ctx context.Context, record *models.MessageRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

// fakeConflictCursor replays a fixed slice of records the way a store cursor
// would, including the (nil, nil) exhaustion signal.
type fakeConflictCursor struct {
	records []*models.MessageRecord
	nextErr error
	idx     int
	closed  bool
}

func (c *fakeConflictCursor) Next() (*models.MessageRecord, error) {
	if c.nextErr != nil {
		return nil, c.nextErr
	}
	if c.idx >= len(c.records) {
		return nil, nil
	}
	rec := c.records[c.idx]
	c.idx++
	return rec, nil
}

func (c *fakeConflictCursor) Close() error {
	c.closed = true
	return nil
}
