// Package securetext is the outbound delivery and identity reconciliation
// core of a secure messaging client. The embedding client constructs a
// Client, registers transport handlers for the task kinds it supports, and
// drives dispatch, resend and identity acceptance through it.
package securetext

import (
	"context"
	"fmt"
	"sync"

	"securetext/internal/config"
	"securetext/internal/database"
	"securetext/internal/models"
	"securetext/internal/queue"
	"securetext/internal/service"
	"securetext/internal/tracing"

	"github.com/sirupsen/logrus"
)

// Client wires the record store, delivery queue and services together.
type Client struct {
	cfg        *models.Config
	logger     *logrus.Logger
	db         *database.Database
	queue      *queue.Queue
	sender     *service.Sender
	reconciler *service.Reconciler
	monitor    *service.OutboxMonitor
	tracing    *tracing.TracingManager

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started bool
	mu      sync.Mutex
}

// New loads configuration and assembles an unstarted client. The directory
// is supplied by the embedding client; it answers push capability for
// transport selection.
func New(configPath string, directory service.Directory) (*Client, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logger.SetLevel(level)

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	q := queue.New(db, cfg.Queue, cfg.Retry, logger)
	sender := service.NewSender(db, q, directory, logger)
	reconciler := service.NewReconciler(db, db, q, sender, logger)
	monitor := service.NewOutboxMonitor(db, 0, 0, logger)

	return &Client{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		queue:      q,
		sender:     sender,
		reconciler: reconciler,
		monitor:    monitor,
		tracing:    tracing.NewTracingManager(cfg.Tracing, logger),
	}, nil
}

// RegisterHandler binds a transport handler to a task kind. Handlers must be
// registered before Start.
func (c *Client) RegisterHandler(kind models.TaskKind, handler queue.Handler) {
	c.queue.Register(kind, handler)
}

// Start launches the delivery queue and the outbox monitor.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("client is already started")
	}

	if err := c.tracing.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := c.queue.Start(runCtx); err != nil {
		cancel()
		if shutdownErr := c.tracing.Shutdown(ctx); shutdownErr != nil {
			c.logger.WithError(shutdownErr).Warn("Tracing shutdown failed")
		}
		return err
	}
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.monitor.Start(runCtx)
	}()

	c.started = true
	c.logger.Info("securetext client started")
	return nil
}

// Stop drains the queue workers, stops the monitor and closes the store.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return nil
	}

	c.cancel()
	c.queue.Stop()
	c.monitor.Stop()
	c.wg.Wait()

	if err := c.tracing.Shutdown(ctx); err != nil {
		c.logger.WithError(err).Warn("Tracing shutdown failed")
	}

	c.started = false
	c.logger.Info("securetext client stopped")
	return c.db.Close()
}

// SendText dispatches a composed text message. Pass
// models.UnassignedThread to let the store derive the thread.
func (c *Client) SendText(ctx context.Context, msg *models.OutgoingTextMessage, threadID int64, forceSMS bool) (int64, error) {
	return c.sender.SendText(ctx, msg, threadID, forceSMS)
}

// SendMedia dispatches a composed media message.
func (c *Client) SendMedia(ctx context.Context, msg *models.OutgoingMediaMessage, threadID int64, forceSMS bool) (int64, error) {
	return c.sender.SendMedia(ctx, msg, threadID, forceSMS)
}

// Resend re-enqueues delivery for a failed outgoing record.
func (c *Client) Resend(ctx context.Context, record *models.MessageRecord) error {
	return c.sender.Resend(ctx, record)
}

// AcceptIdentity accepts a mismatched identity key and reconciles every
// message in the thread blocked on it.
func (c *Client) AcceptIdentity(ctx context.Context, record *models.MessageRecord, mismatch models.IdentityKeyMismatch) error {
	return c.reconciler.AcceptIdentity(ctx, record, mismatch)
}

// AcceptIdentityAsync runs AcceptIdentity in the background, for call sites
// that must not block (confirmation dialogs).
func (c *Client) AcceptIdentityAsync(record *models.MessageRecord, mismatch models.IdentityKeyMismatch) {
	c.reconciler.AcceptIdentityAsync(record, mismatch)
}

// Store exposes the record store for read access and delivery-outcome
// updates from transport handlers.
func (c *Client) Store() *database.Database {
	return c.db
}

// MarkSent is a convenience for transport handlers acknowledging delivery.
func (c *Client) MarkSent(ctx context.Context, kind models.MessageKind, messageID int64) error {
	return c.db.MarkSent(ctx, kind, messageID)
}

// MarkFailed is a convenience for transport handlers reporting a
// per-recipient transport failure.
func (c *Client) MarkFailed(ctx context.Context, kind models.MessageKind, messageID int64, failure models.NetworkFailure) error {
	return c.db.MarkFailed(ctx, kind, messageID, failure)
}
