package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	apperrors "securetext/internal/errors"
	"securetext/internal/models"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockJobStore struct {
	mock.Mock
}

func (m *mockJobStore) EnqueueJob(ctx context.Context, job *models.Job) (int64, error) {
	args := m.Called(ctx, job)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockJobStore) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]models.Job, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Job), args.Error(1)
}

func (m *mockJobStore) MarkJobDone(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockJobStore) FailJob(ctx context.Context, id int64, errMsg string, nextAttemptAt time.Time) error {
	args := m.Called(ctx, id, errMsg, nextAttemptAt)
	return args.Error(0)
}

func (m *mockJobStore) MarkJobDead(ctx context.Context, id int64, errMsg string) error {
	args := m.Called(ctx, id, errMsg)
	return args.Error(0)
}

func (m *mockJobStore) RequeueStaleJobs(ctx context.Context, staleBefore time.Time) (int, error) {
	args := m.Called(ctx, staleBefore)
	return args.Int(0), args.Error(1)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testQueueConfig() models.QueueConfig {
	return models.QueueConfig{
		Workers:         1,
		PollIntervalMs:  10,
		ClaimBatchSize:  4,
		MaxAttempts:     3,
		StaleRunningSec: 300,
	}
}

func testRetryConfig() models.RetryConfig {
	return models.RetryConfig{InitialBackoffMs: 1, MaxBackoffMs: 10, MaxAttempts: 3}
}

func newTestQueue(store *mockJobStore) *Queue {
	return New(store, testQueueConfig(), testRetryConfig(), testLogger())
}

func TestEnqueueDelivery(t *testing.T) {
	store := &mockJobStore{}
	q := newTestQueue(store)
	ctx := context.Background()

	task := models.DeliveryTask{
		Kind:        models.TaskSendSMS,
		MessageID:   42,
		MessageKind: models.KindText,
		Destination: "+12025550101",
	}
	store.On("EnqueueJob", ctx, mock.MatchedBy(func(job *models.Job) bool {
		var decoded models.DeliveryTask
		if err := json.Unmarshal(job.Payload, &decoded); err != nil {
			return false
		}
		return job.Kind == models.TaskSendSMS &&
			job.Token != "" &&
			job.MaxAttempts == 3 &&
			decoded == task
	})).Return(int64(1), nil)

	require.NoError(t, q.EnqueueDelivery(ctx, task))
	store.AssertExpectations(t)
}

func TestEnqueueDecrypt(t *testing.T) {
	store := &mockJobStore{}
	q := newTestQueue(store)
	ctx := context.Background()

	task := models.DecryptTask{EnvelopeID: 900, MessageID: 80, Source: "+12025550101"}
	store.On("EnqueueJob", ctx, mock.MatchedBy(func(job *models.Job) bool {
		return job.Kind == models.TaskDecryptPush
	})).Return(int64(2), nil)

	require.NoError(t, q.EnqueueDecrypt(ctx, task))
	store.AssertExpectations(t)
}

func TestEnqueueStoreFailure(t *testing.T) {
	store := &mockJobStore{}
	q := newTestQueue(store)
	ctx := context.Background()

	store.On("EnqueueJob", ctx, mock.Anything).Return(int64(0), errors.New("database is locked"))

	err := q.EnqueueDelivery(ctx, models.DeliveryTask{Kind: models.TaskSendSMS})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeQueueEnqueue, apperrors.GetCode(err))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestTokensAreUnique(t *testing.T) {
	store := &mockJobStore{}
	q := newTestQueue(store)
	ctx := context.Background()

	var tokens []string
	store.On("EnqueueJob", ctx, mock.Anything).Run(func(args mock.Arguments) {
		tokens = append(tokens, args.Get(1).(*models.Job).Token)
	}).Return(int64(1), nil)

	require.NoError(t, q.EnqueueDelivery(ctx, models.DeliveryTask{Kind: models.TaskSendSMS}))
	require.NoError(t, q.EnqueueDelivery(ctx, models.DeliveryTask{Kind: models.TaskSendSMS}))
	require.Len(t, tokens, 2)
	assert.NotEqual(t, tokens[0], tokens[1])
}

func waitForCall(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func startQueue(t *testing.T, q *Queue) {
	t.Helper()
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(q.Stop)
}

func TestExecuteAcknowledgesSuccess(t *testing.T) {
	store := &mockJobStore{}
	q := newTestQueue(store)

	job := models.Job{ID: 1, Kind: models.TaskSendSMS, Attempts: 1, MaxAttempts: 3, Payload: []byte(`{}`)}

	store.On("RequeueStaleJobs", mock.Anything, mock.Anything).Return(0, nil)
	store.On("ClaimDueJobs", mock.Anything, mock.Anything, 4).Return([]models.Job{job}, nil).Once()
	store.On("ClaimDueJobs", mock.Anything, mock.Anything, 4).Return([]models.Job{}, nil)

	handled := make(chan struct{})
	q.Register(models.TaskSendSMS, func(ctx context.Context, got models.Job) error {
		assert.Equal(t, int64(1), got.ID)
		close(handled)
		return nil
	})

	acked := make(chan struct{})
	store.On("MarkJobDone", mock.Anything, int64(1)).Run(func(mock.Arguments) {
		close(acked)
	}).Return(nil)

	startQueue(t, q)
	waitForCall(t, handled, "handler execution")
	waitForCall(t, acked, "job acknowledgement")
}

func TestExecuteRetriesRetryableFailure(t *testing.T) {
	store := &mockJobStore{}
	q := newTestQueue(store)

	job := models.Job{ID: 2, Kind: models.TaskSendSMS, Attempts: 1, MaxAttempts: 3, Payload: []byte(`{}`)}

	store.On("RequeueStaleJobs", mock.Anything, mock.Anything).Return(0, nil)
	store.On("ClaimDueJobs", mock.Anything, mock.Anything, 4).Return([]models.Job{job}, nil).Once()
	store.On("ClaimDueJobs", mock.Anything, mock.Anything, 4).Return([]models.Job{}, nil)

	q.Register(models.TaskSendSMS, func(ctx context.Context, got models.Job) error {
		return apperrors.WrapRetryable(errors.New("timeout"), apperrors.ErrCodeTransportFailure, "send failed")
	})

	rescheduled := make(chan struct{})
	store.On("FailJob", mock.Anything, int64(2), mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		close(rescheduled)
	}).Return(nil)

	startQueue(t, q)
	waitForCall(t, rescheduled, "job reschedule")
	store.AssertNotCalled(t, "MarkJobDead", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecuteDeadLettersNonRetryableFailure(t *testing.T) {
	store := &mockJobStore{}
	q := newTestQueue(store)

	job := models.Job{ID: 3, Kind: models.TaskSendSMS, Attempts: 1, MaxAttempts: 3, Payload: []byte(`{}`)}

	store.On("RequeueStaleJobs", mock.Anything, mock.Anything).Return(0, nil)
	store.On("ClaimDueJobs", mock.Anything, mock.Anything, 4).Return([]models.Job{job}, nil).Once()
	store.On("ClaimDueJobs", mock.Anything, mock.Anything, 4).Return([]models.Job{}, nil)

	q.Register(models.TaskSendSMS, func(ctx context.Context, got models.Job) error {
		return apperrors.New(apperrors.ErrCodeCorruptState, "bad stored state")
	})

	dead := make(chan struct{})
	store.On("MarkJobDead", mock.Anything, int64(3), mock.Anything).Run(func(mock.Arguments) {
		close(dead)
	}).Return(nil)

	startQueue(t, q)
	waitForCall(t, dead, "dead-letter")
	store.AssertNotCalled(t, "FailJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecuteDeadLettersAfterMaxAttempts(t *testing.T) {
	store := &mockJobStore{}
	q := newTestQueue(store)

	job := models.Job{ID: 4, Kind: models.TaskSendSMS, Attempts: 3, MaxAttempts: 3, Payload: []byte(`{}`)}

	store.On("RequeueStaleJobs", mock.Anything, mock.Anything).Return(0, nil)
	store.On("ClaimDueJobs", mock.Anything, mock.Anything, 4).Return([]models.Job{job}, nil).Once()
	store.On("ClaimDueJobs", mock.Anything, mock.Anything, 4).Return([]models.Job{}, nil)

	q.Register(models.TaskSendSMS, func(ctx context.Context, got models.Job) error {
		return apperrors.WrapRetryable(errors.New("timeout"), apperrors.ErrCodeTransportFailure, "send failed")
	})

	dead := make(chan struct{})
	store.On("MarkJobDead", mock.Anything, int64(4), mock.Anything).Run(func(mock.Arguments) {
		close(dead)
	}).Return(nil)

	startQueue(t, q)
	waitForCall(t, dead, "dead-letter after exhausted attempts")
	store.AssertNotCalled(t, "FailJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecuteDeadLettersUnknownTaskKind(t *testing.T) {
	store := &mockJobStore{}
	q := newTestQueue(store)

	job := models.Job{ID: 5, Kind: models.TaskKind("mystery"), Attempts: 1, MaxAttempts: 3, Payload: []byte(`{}`)}

	store.On("RequeueStaleJobs", mock.Anything, mock.Anything).Return(0, nil)
	store.On("ClaimDueJobs", mock.Anything, mock.Anything, 4).Return([]models.Job{job}, nil).Once()
	store.On("ClaimDueJobs", mock.Anything, mock.Anything, 4).Return([]models.Job{}, nil)

	dead := make(chan struct{})
	store.On("MarkJobDead", mock.Anything, int64(5), "no handler registered").Run(func(mock.Arguments) {
		close(dead)
	}).Return(nil)

	startQueue(t, q)
	waitForCall(t, dead, "dead-letter for unknown kind")
}

func TestExecuteDeadLetterLogCarriesErrorCode(t *testing.T) {
	store := &mockJobStore{}
	logger, hook := logtest.NewNullLogger()
	q := New(store, testQueueConfig(), testRetryConfig(), logger)

	job := models.Job{ID: 6, Kind: models.TaskSendSMS, Attempts: 1, MaxAttempts: 3, Payload: []byte(`{}`)}

	store.On("RequeueStaleJobs", mock.Anything, mock.Anything).Return(0, nil)
	store.On("ClaimDueJobs", mock.Anything, mock.Anything, 4).Return([]models.Job{job}, nil).Once()
	store.On("ClaimDueJobs", mock.Anything, mock.Anything, 4).Return([]models.Job{}, nil)

	q.Register(models.TaskSendSMS, func(ctx context.Context, got models.Job) error {
		return apperrors.New(apperrors.ErrCodeCorruptState, "bad stored state")
	})

	dead := make(chan struct{})
	store.On("MarkJobDead", mock.Anything, int64(6), mock.Anything).Run(func(mock.Arguments) {
		close(dead)
	}).Return(nil)

	startQueue(t, q)
	waitForCall(t, dead, "dead-letter")

	var entry *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "Job failed permanently" {
			entry = e
			break
		}
	}
	require.NotNil(t, entry)
	assert.Equal(t, apperrors.ErrCodeCorruptState, entry.Data["error_code"])
	assert.Equal(t, false, entry.Data["retryable"])
	assert.Equal(t, int64(6), entry.Data["job_id"])
}

func TestStartRecoversStaleJobs(t *testing.T) {
	store := &mockJobStore{}
	q := newTestQueue(store)

	recovered := make(chan struct{})
	store.On("RequeueStaleJobs", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		select {
		case <-recovered:
		default:
			close(recovered)
		}
	}).Return(2, nil)
	store.On("ClaimDueJobs", mock.Anything, mock.Anything, 4).Return([]models.Job{}, nil)

	startQueue(t, q)
	waitForCall(t, recovered, "stale job recovery")
}

func TestStartStopLifecycle(t *testing.T) {
	store := &mockJobStore{}
	q := newTestQueue(store)

	store.On("RequeueStaleJobs", mock.Anything, mock.Anything).Return(0, nil)
	store.On("ClaimDueJobs", mock.Anything, mock.Anything, 4).Return([]models.Job{}, nil)

	assert.False(t, q.IsRunning())
	require.NoError(t, q.Start(context.Background()))
	assert.True(t, q.IsRunning())

	assert.Error(t, q.Start(context.Background()))

	q.Stop()
	assert.False(t, q.IsRunning())
	q.Stop()
}

func TestQueueDefaultsApplied(t *testing.T) {
	store := &mockJobStore{}
	q := New(store, models.QueueConfig{}, models.RetryConfig{}, testLogger())

	assert.Greater(t, q.cfg.Workers, 0)
	assert.Greater(t, q.cfg.PollIntervalMs, 0)
	assert.Greater(t, q.cfg.ClaimBatchSize, 0)
	assert.Greater(t, q.cfg.MaxAttempts, 0)
	assert.Greater(t, q.cfg.StaleRunningSec, 0)
}
