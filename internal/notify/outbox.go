// -----------------------------------------------------------------------
// Notification Outbox - durable delivery queue for completion emails
// -----------------------------------------------------------------------

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/inscribo/internal/interfaces"
	"github.com/ternarybob/inscribo/internal/models"
)

const outboxPrefix = "outbox:"

// envelope wraps a completion event with delivery bookkeeping.
type envelope struct {
	ID            string                 `json:"id"`
	Event         models.CompletionEvent `json:"event"`
	Attempts      int                    `json:"attempts"`
	EnqueuedAt    time.Time              `json:"enqueued_at"`
	NextAttemptAt time.Time              `json:"next_attempt_at"`
}

// Outbox persists completion notifications and delivers them with retries,
// so a crash between finalizing an entry and emailing the customer never
// loses the notification. Envelopes survive restarts in the same Badger
// store as the queue itself.
type Outbox struct {
	db       *badger.DB
	notifier interfaces.Notifier
	logger   arbor.ILogger

	pollInterval time.Duration
	retryDelay   time.Duration
	maxAttempts  int
}

// NewOutbox creates a delivery outbox over the shared Badger store.
func NewOutbox(db *badger.DB, notifier interfaces.Notifier, logger arbor.ILogger) *Outbox {
	return &Outbox{
		db:           db,
		notifier:     notifier,
		logger:       logger,
		pollInterval: 5 * time.Second,
		retryDelay:   30 * time.Second,
		maxAttempts:  5,
	}
}

// Enqueue persists a notification for delivery.
func (o *Outbox) Enqueue(event models.CompletionEvent) error {
	env := envelope{
		ID:            event.EntryID,
		Event:         event,
		EnqueuedAt:    time.Now(),
		NextAttemptAt: time.Now(),
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	return o.db.Update(func(txn *badger.Txn) error {
		return txn.Set(o.key(env.ID), data)
	})
}

// Start runs the delivery loop until the context is cancelled.
func (o *Outbox) Start(ctx context.Context) {
	o.logger.Info().
		Dur("poll_interval", o.pollInterval).
		Int("max_attempts", o.maxAttempts).
		Msg("Notification outbox started")

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Msg("Notification outbox stopped")
			return
		case <-ticker.C:
			o.deliverDue(ctx)
		}
	}
}

// deliverDue delivers every envelope whose retry time has arrived.
func (o *Outbox) deliverDue(ctx context.Context) {
	due, err := o.collectDue()
	if err != nil {
		o.logger.Warn().Err(err).Msg("Failed to scan notification outbox")
		return
	}

	for _, env := range due {
		if ctx.Err() != nil {
			return
		}

		if err := o.notifier.NotifyCompletion(ctx, env.Event); err != nil {
			o.handleFailure(env, err)
			continue
		}

		if err := o.remove(env.ID); err != nil {
			o.logger.Warn().Err(err).Str("entry_id", env.ID).Msg("Failed to remove delivered notification")
		}
	}
}

func (o *Outbox) collectDue() ([]envelope, error) {
	var due []envelope
	now := time.Now()

	err := o.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := []byte(outboxPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var env envelope
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &env)
			})
			if err != nil {
				o.logger.Warn().Err(err).Msg("Skipping unreadable outbox envelope")
				continue
			}
			if env.NextAttemptAt.After(now) {
				continue
			}
			due = append(due, env)
		}
		return nil
	})

	return due, err
}

// handleFailure reschedules the envelope with doubled delay, dropping it
// once the attempt budget is spent.
func (o *Outbox) handleFailure(env envelope, deliveryErr error) {
	env.Attempts++

	if env.Attempts >= o.maxAttempts {
		o.logger.Error().Err(deliveryErr).
			Str("entry_id", env.ID).
			Int("attempts", env.Attempts).
			Msg("Dropping notification after exhausting delivery attempts")
		if err := o.remove(env.ID); err != nil {
			o.logger.Warn().Err(err).Str("entry_id", env.ID).Msg("Failed to drop dead notification")
		}
		return
	}

	delay := o.retryDelay
	for i := 1; i < env.Attempts; i++ {
		delay *= 2
	}
	env.NextAttemptAt = time.Now().Add(delay)

	o.logger.Warn().Err(deliveryErr).
		Str("entry_id", env.ID).
		Int("attempts", env.Attempts).
		Dur("retry_in", delay).
		Msg("Notification delivery failed - rescheduled")

	data, err := json.Marshal(env)
	if err != nil {
		o.logger.Warn().Err(err).Str("entry_id", env.ID).Msg("Failed to marshal rescheduled notification")
		return
	}
	if err := o.db.Update(func(txn *badger.Txn) error {
		return txn.Set(o.key(env.ID), data)
	}); err != nil {
		o.logger.Warn().Err(err).Str("entry_id", env.ID).Msg("Failed to reschedule notification")
	}
}

func (o *Outbox) remove(id string) error {
	return o.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(o.key(id))
	})
}

func (o *Outbox) key(id string) []byte {
	return []byte(outboxPrefix + id)
}

// Pending returns the number of undelivered notifications.
func (o *Outbox) Pending() (int, error) {
	count := 0
	err := o.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(outboxPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}
