// -----------------------------------------------------------------------
// Directory Descriptor - catalog metadata for one external directory
// -----------------------------------------------------------------------

package models

// DirectoryDescriptor describes one external web directory a business
// listing can be submitted to. Descriptors are loaded from catalog files at
// startup and validated against this schema; malformed entries are rejected
// at load time, never at submission time.
type DirectoryDescriptor struct {
	ID            string `toml:"id" json:"id" validate:"required"`
	Name          string `toml:"name" json:"name" validate:"required"`
	URL           string `toml:"url" json:"url" validate:"required,url"`
	SubmissionURL string `toml:"submission_url" json:"submission_url" validate:"omitempty,url"`

	// Difficulty 1 (trivial) to 5 (hardest). Informational only.
	Difficulty int `toml:"difficulty" json:"difficulty" validate:"gte=1,lte=5"`

	RequiresLogin bool `toml:"requires_login" json:"requires_login"`
	HasAntiBot    bool `toml:"has_anti_bot" json:"has_anti_bot"`
	FeeCents      int  `toml:"fee_cents" json:"fee_cents" validate:"gte=0"`
	Broken        bool `toml:"broken" json:"broken"`

	// FieldMapping maps business profile field names to CSS selectors on
	// the directory's submission form.
	FieldMapping map[string]string `toml:"field_mapping" json:"field_mapping"`

	// SuccessIndicators are CSS selectors whose presence after submit
	// confirms the listing was accepted.
	SuccessIndicators []string `toml:"success_indicators" json:"success_indicators"`
}

// BusinessProfile is the customer listing data submitted to directories.
// Captured as an immutable snapshot when the queue entry is created.
type BusinessProfile struct {
	Name        string `json:"name" validate:"required"`
	Address     string `json:"address"`
	City        string `json:"city"`
	State       string `json:"state"`
	Zip         string `json:"zip"`
	Phone       string `json:"phone"`
	Website     string `json:"website" validate:"omitempty,url"`
	Email       string `json:"email" validate:"omitempty,email"`
	Description string `json:"description"`
}

// Fields returns the profile as a field name -> value map for form filling.
// Empty values are omitted.
func (p BusinessProfile) Fields() map[string]string {
	fields := map[string]string{
		"name":        p.Name,
		"address":     p.Address,
		"city":        p.City,
		"state":       p.State,
		"zip":         p.Zip,
		"phone":       p.Phone,
		"website":     p.Website,
		"email":       p.Email,
		"description": p.Description,
	}
	for k, v := range fields {
		if v == "" {
			delete(fields, k)
		}
	}
	return fields
}

// DirectoryStats tracks historical submission outcomes for one directory.
// Feeds the success-rate score used when truncating an entry's directory
// list under a tier cap.
type DirectoryStats struct {
	DirectoryID string `json:"directory_id" badgerhold:"key"`
	Attempts    int    `json:"attempts"`
	Successes   int    `json:"successes"`
}

// neutralScore is assumed for directories with no submission history.
const neutralScore = 0.5

// Score returns the historical success rate, or a neutral score when there
// is no history yet.
func (s DirectoryStats) Score() float64 {
	if s.Attempts == 0 {
		return neutralScore
	}
	return float64(s.Successes) / float64(s.Attempts)
}
