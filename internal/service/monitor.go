package service

import (
	"context"
	"sync"
	"time"

	"securetext/internal/constants"
	"securetext/internal/metrics"

	"github.com/sirupsen/logrus"
)

// StaleOutboxCounter reports how many outgoing messages have been sitting in
// outbox state longer than a threshold.
type StaleOutboxCounter interface {
	CountStaleOutbox(ctx context.Context, threshold time.Duration) (int, error)
}

// OutboxMonitor periodically checks for messages stuck in outbox state.
type OutboxMonitor struct {
	db             StaleOutboxCounter
	checkInterval  time.Duration
	staleThreshold time.Duration
	logger         *logrus.Logger
	stopCh         chan struct{}
	stopOnce       sync.Once
}

func NewOutboxMonitor(db StaleOutboxCounter, checkInterval, staleThreshold time.Duration, logger *logrus.Logger) *OutboxMonitor {
	if checkInterval <= 0 {
		checkInterval = time.Duration(constants.DefaultOutboxCheckIntervalSec) * time.Second
	}
	if staleThreshold <= 0 {
		staleThreshold = time.Duration(constants.DefaultOutboxStaleThresholdSec) * time.Second
	}
	return &OutboxMonitor{
		db:             db,
		checkInterval:  checkInterval,
		staleThreshold: staleThreshold,
		logger:         logger,
		stopCh:         make(chan struct{}),
	}
}

func (m *OutboxMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	m.logger.WithFields(logrus.Fields{
		"check_interval":  m.checkInterval,
		"stale_threshold": m.staleThreshold,
	}).Info("Starting outbox monitor")

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkStaleOutbox(ctx)
		}
	}
}

// Stop ends the monitor loop. Safe to call more than once.
func (m *OutboxMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *OutboxMonitor) checkStaleOutbox(ctx context.Context) {
	count, err := m.db.CountStaleOutbox(ctx, m.staleThreshold)
	if err != nil {
		m.logger.WithError(err).Error("Failed to check for stale outbox messages")
		return
	}
	metrics.SetGauge("outbox_stale_messages", float64(count), nil, "Outgoing messages stuck in outbox state")
	if count > 0 {
		m.logger.WithFields(logrus.Fields{
			"stale_count": count,
			"threshold":   m.staleThreshold,
		}).Warn("Messages stuck in outbox without a delivery outcome")
	}
}
