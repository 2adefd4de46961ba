// -----------------------------------------------------------------------
// Notify Service - routes completion events into the delivery outbox
// -----------------------------------------------------------------------

package notify

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/inscribo/internal/common"
	"github.com/ternarybob/inscribo/internal/interfaces"
	"github.com/ternarybob/inscribo/internal/models"
)

// LogNotifier writes completion notifications to the log. Used directly in
// development and as the outbox target when SMTP is disabled.
type LogNotifier struct {
	logger arbor.ILogger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger arbor.ILogger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyCompletion(ctx context.Context, event models.CompletionEvent) error {
	n.logger.Info().
		Str("entry_id", event.EntryID).
		Str("customer_id", event.CustomerID).
		Str("status", string(event.FinalStatus)).
		Int("succeeded", event.Succeeded).
		Int("failed", event.Failed).
		Int("skipped", event.Skipped).
		Int("priority", event.NotifyPriority).
		Msg("Entry completed")
	return nil
}

// Service bridges the event bus to the outbox: every completion is logged,
// and those at or above the configured priority with a customer email are
// queued for SMTP delivery.
type Service struct {
	events interfaces.EventService
	outbox *Outbox
	cfg    *common.NotifyConfig
	logger arbor.ILogger
	log    *LogNotifier
}

// NewService creates the notification service.
func NewService(events interfaces.EventService, outbox *Outbox, cfg *common.NotifyConfig, logger arbor.ILogger) *Service {
	return &Service{
		events: events,
		outbox: outbox,
		cfg:    cfg,
		logger: logger,
		log:    NewLogNotifier(logger),
	}
}

// Register subscribes the service to completion events.
func (s *Service) Register() error {
	return s.events.Subscribe(interfaces.EventEntryCompleted, s.handleCompletion)
}

func (s *Service) handleCompletion(ctx context.Context, event interfaces.Event) error {
	completion, ok := event.Payload.(models.CompletionEvent)
	if !ok {
		return fmt.Errorf("unexpected payload type for completion event")
	}

	// Log channel always fires.
	_ = s.log.NotifyCompletion(ctx, completion)

	if !s.cfg.SMTPEnabled {
		return nil
	}
	if completion.NotifyPriority < s.cfg.MinPriority {
		s.logger.Debug().
			Str("entry_id", completion.EntryID).
			Int("priority", completion.NotifyPriority).
			Msg("Completion below email priority threshold")
		return nil
	}
	if completion.CustomerEmail == "" {
		s.logger.Debug().
			Str("entry_id", completion.EntryID).
			Msg("No customer email on entry - skipping email notification")
		return nil
	}

	if err := s.outbox.Enqueue(completion); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}
