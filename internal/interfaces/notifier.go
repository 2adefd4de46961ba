package interfaces

import (
	"context"

	"github.com/ternarybob/inscribo/internal/models"
)

// Notifier delivers completion notifications to the customer. The channel
// choice per priority level is the notifier's decision, not the reporter's.
type Notifier interface {
	NotifyCompletion(ctx context.Context, event models.CompletionEvent) error
}
