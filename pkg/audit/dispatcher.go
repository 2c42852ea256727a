package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/clock"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/db"
)

// Sink receives delivered entries. *Recorder is the production sink.
type Sink interface {
	Record(ctx context.Context, q db.Querier, entry Entry) error
}

// DispatcherConfig tunes outbox delivery.
type DispatcherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	RetryBase    time.Duration
	RetryMax     time.Duration
}

// DefaultDispatcherConfig returns the delivery settings used when none are configured.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		PollInterval: 2 * time.Second,
		BatchSize:    100,
		MaxAttempts:  8,
		RetryBase:    time.Second,
		RetryMax:     5 * time.Minute,
	}
}

func (c *DispatcherConfig) normalize() {
	def := DefaultDispatcherConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.RetryBase <= 0 {
		c.RetryBase = def.RetryBase
	}
	if c.RetryMax <= 0 {
		c.RetryMax = def.RetryMax
	}
}

// DispatchResult captures one dispatch cycle outcome.
type DispatchResult struct {
	Processed int
	Published int
	Failed    int
}

// Dispatcher moves outbox events into the audit sink.
type Dispatcher struct {
	conn   *db.Connection
	outbox *Outbox
	sink   Sink
	clock  clock.Clock
	cfg    DispatcherConfig
	logger *slog.Logger
	wake   chan struct{}
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(conn *db.Connection, outbox *Outbox, sink Sink, c clock.Clock, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	cfg.normalize()
	if c == nil {
		c = clock.NewReal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		conn:   conn,
		outbox: outbox,
		sink:   sink,
		clock:  c,
		cfg:    cfg,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Notify wakes the dispatcher loop without blocking. Called after a ledger
// unit of work commits.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run drains the outbox on every notification and poll tick until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.logger.Info("audit dispatcher started", "poll_interval", d.cfg.PollInterval.String())

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("audit dispatcher stopped")
			return
		case <-ticker.C:
		case <-d.wake:
		}

		for {
			result, err := d.DrainOnce(ctx)
			if err != nil {
				d.logger.Error("audit dispatch cycle failed", "error", err)
				break
			}
			if result.Processed > 0 {
				d.logger.Debug("audit dispatch cycle",
					"processed", result.Processed,
					"published", result.Published,
					"failed", result.Failed,
				)
			}
			if result.Processed < d.cfg.BatchSize {
				break
			}
		}
	}
}

// DrainOnce delivers one batch of due events.
func (d *Dispatcher) DrainOnce(ctx context.Context) (DispatchResult, error) {
	var result DispatchResult

	events, err := d.outbox.ListDue(ctx, d.cfg.BatchSize)
	if err != nil {
		return result, err
	}

	for _, event := range events {
		result.Processed++

		if err := d.deliver(ctx, event); err != nil {
			result.Failed++
			retryAt := d.clock.Now().Add(d.retryDelay(event.Attempts + 1))
			d.logger.Warn("audit delivery failed",
				"outbox_id", event.ID,
				"entity_id", event.AggregateID,
				"attempt", event.Attempts+1,
				"error", err,
			)
			if markErr := d.outbox.MarkFailed(ctx, event.ID, err.Error(), retryAt, d.cfg.MaxAttempts); markErr != nil {
				return result, markErr
			}
			continue
		}

		result.Published++
	}

	return result, nil
}

// deliver appends the entry and flags the event in one unit of work.
func (d *Dispatcher) deliver(ctx context.Context, event OutboxEvent) error {
	var entry Entry
	if err := json.Unmarshal(event.Payload, &entry); err != nil {
		return fmt.Errorf("failed to decode outbox payload: %w", err)
	}

	return d.conn.Transaction(ctx, func(tx *sql.Tx) error {
		if err := d.sink.Record(ctx, tx, entry); err != nil {
			return err
		}
		return d.outbox.MarkPublished(ctx, tx, event.ID)
	})
}

// retryDelay is RetryBase * 2^(attempt-1), capped at RetryMax.
func (d *Dispatcher) retryDelay(attempt int) time.Duration {
	delay := d.cfg.RetryBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.cfg.RetryMax {
			return d.cfg.RetryMax
		}
	}
	return delay
}
