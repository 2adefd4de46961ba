package interfaces

import (
	"context"

	"github.com/ternarybob/inscribo/internal/models"
)

// SubmissionOutcome is the result of one form submission attempt.
type SubmissionOutcome struct {
	Success     bool   `json:"success"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// Submitter fills and submits one directory's listing form. Implementations
// perform network I/O and page rendering; callers must treat Submit as a
// blocking operation and bound it with the context deadline.
type Submitter interface {
	Submit(ctx context.Context, dir models.DirectoryDescriptor, profile models.BusinessProfile) (SubmissionOutcome, error)
}

// DirectoryCatalog provides read-only lookup of directory descriptors.
type DirectoryCatalog interface {
	Get(directoryID string) (models.DirectoryDescriptor, bool)
	All() []models.DirectoryDescriptor
	Len() int
}
