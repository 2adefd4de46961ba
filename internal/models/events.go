package models

import "time"

// ProgressEvent is published incrementally as directories complete.
type ProgressEvent struct {
	EntryID                   string    `json:"entry_id"`
	CustomerID                string    `json:"customer_id"`
	DirectoriesCompleted      int       `json:"directories_completed"`
	DirectoriesTotal          int       `json:"directories_total"`
	CurrentDirectory          string    `json:"current_directory,omitempty"`
	EstimatedRemainingSeconds int       `json:"estimated_remaining_seconds,omitempty"`
	Timestamp                 time.Time `json:"timestamp"`
}

// CompletionEvent is published exactly once when an entry reaches a
// terminal state. NotifyPriority tells the notifier how loudly to escalate
// (higher tiers get higher priority).
type CompletionEvent struct {
	EntryID              string      `json:"entry_id"`
	CustomerID           string      `json:"customer_id"`
	CustomerEmail        string      `json:"customer_email,omitempty"`
	Succeeded            int         `json:"succeeded"`
	Failed               int         `json:"failed"`
	Skipped              int         `json:"skipped"`
	TotalDurationSeconds float64     `json:"total_duration_seconds"`
	FinalStatus          EntryStatus `json:"final_status"`
	NotifyPriority       int         `json:"notify_priority"`
	Timestamp            time.Time   `json:"timestamp"`
}
