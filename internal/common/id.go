package common

import (
	"github.com/google/uuid"
)

// NewRunID generates a unique dispatcher run ID with the "run_" prefix.
// A run ID identifies one dispatcher's claim on an entry.
func NewRunID() string {
	return "run_" + uuid.New().String()
}
