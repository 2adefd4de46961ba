package dispatcher

import (
	"time"

	"github.com/ternarybob/inscribo/internal/models"
)

// maxRetryDelay caps exponential growth so slow-class entries with large
// retry budgets never stall a worker for minutes on end.
const maxRetryDelay = 5 * time.Minute

// RetryDelay returns the wait before retry number attempt (1-based, the
// number of attempts already made). The tier's delay class sets the base
// and each further attempt doubles it.
func RetryDelay(class models.DelayClass, attempt int) time.Duration {
	delay := class.BaseDelay()
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}
