// -----------------------------------------------------------------------
// Tier Policy - static per-tier scheduling and execution limits
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// Tier is a pricing/service level.
type Tier string

const (
	TierStarter      Tier = "starter"
	TierGrowth       Tier = "growth"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// Valid reports whether the tier is part of the closed enumeration.
func (t Tier) Valid() bool {
	switch t {
	case TierStarter, TierGrowth, TierProfessional, TierEnterprise:
		return true
	}
	return false
}

// DelayClass controls how quickly failed submissions are retried.
type DelayClass string

const (
	DelayClassFast     DelayClass = "fast"
	DelayClassStandard DelayClass = "standard"
	DelayClassSlow     DelayClass = "slow"
)

// BaseDelay returns the first-retry delay for the class. Subsequent
// retries double the delay per attempt.
func (d DelayClass) BaseDelay() time.Duration {
	switch d {
	case DelayClassFast:
		return 2 * time.Second
	case DelayClassSlow:
		return 15 * time.Second
	default:
		return 5 * time.Second
	}
}

// TierPolicy holds the static per-tier limits loaded at startup.
// PriorityRank: lower is served first. MaxDirectoriesPerEntry of 0 means
// unlimited.
type TierPolicy struct {
	Tier                    Tier       `toml:"tier" json:"tier" validate:"required"`
	PriorityRank            int        `toml:"priority_rank" json:"priority_rank" validate:"gte=1"`
	MaxConcurrentDirs       int        `toml:"max_concurrent_dirs" json:"max_concurrent_dirs" validate:"gte=1"`
	MaxDirectoriesPerEntry  int        `toml:"max_directories_per_entry" json:"max_directories_per_entry" validate:"gte=0"`
	RetryBudget             int        `toml:"retry_budget" json:"retry_budget" validate:"gte=0"`
	SLAMinutes              int        `toml:"sla_minutes" json:"sla_minutes" validate:"gte=1"`
	DelayClass              DelayClass `toml:"delay_class" json:"delay_class"`
	AllowLoginDirectories   bool       `toml:"allow_login_directories" json:"allow_login_directories"`
	AllowPaidDirectories    bool       `toml:"allow_paid_directories" json:"allow_paid_directories"`
}

// SLA returns the tier's SLA as a duration.
func (p TierPolicy) SLA() time.Duration {
	return time.Duration(p.SLAMinutes) * time.Minute
}

// TierPolicyTable maps tiers to their policies. Loaded once at startup,
// never mutated at runtime.
type TierPolicyTable map[Tier]TierPolicy

// DefaultTierPolicies returns the built-in policy table used when the
// config file does not override it.
func DefaultTierPolicies() TierPolicyTable {
	return TierPolicyTable{
		TierStarter: {
			Tier:                   TierStarter,
			PriorityRank:           4,
			MaxConcurrentDirs:      2,
			MaxDirectoriesPerEntry: 50,
			RetryBudget:            1,
			SLAMinutes:             14400,
			DelayClass:             DelayClassSlow,
		},
		TierGrowth: {
			Tier:                   TierGrowth,
			PriorityRank:           3,
			MaxConcurrentDirs:      3,
			MaxDirectoriesPerEntry: 150,
			RetryBudget:            2,
			SLAMinutes:             7200,
			DelayClass:             DelayClassStandard,
		},
		TierProfessional: {
			Tier:                   TierProfessional,
			PriorityRank:           2,
			MaxConcurrentDirs:      4,
			MaxDirectoriesPerEntry: 300,
			RetryBudget:            2,
			SLAMinutes:             2880,
			DelayClass:             DelayClassFast,
		},
		TierEnterprise: {
			Tier:                   TierEnterprise,
			PriorityRank:           1,
			MaxConcurrentDirs:      5,
			MaxDirectoriesPerEntry: 0,
			RetryBudget:            3,
			SLAMinutes:             1440,
			DelayClass:             DelayClassFast,
			AllowLoginDirectories:  true,
			AllowPaidDirectories:   true,
		},
	}
}

// Get returns the policy for a tier or an error if the tier is unknown.
func (t TierPolicyTable) Get(tier Tier) (TierPolicy, error) {
	policy, ok := t[tier]
	if !ok {
		return TierPolicy{}, fmt.Errorf("no policy for tier: %s", tier)
	}
	return policy, nil
}

// Validate checks the table covers every tier with sane values.
func (t TierPolicyTable) Validate() error {
	for _, tier := range []Tier{TierStarter, TierGrowth, TierProfessional, TierEnterprise} {
		policy, ok := t[tier]
		if !ok {
			return fmt.Errorf("tier policy table missing tier: %s", tier)
		}
		if policy.PriorityRank < 1 {
			return fmt.Errorf("tier %s: priority rank must be >= 1", tier)
		}
		if policy.MaxConcurrentDirs < 1 {
			return fmt.Errorf("tier %s: max concurrent dirs must be >= 1", tier)
		}
		if policy.SLAMinutes < 1 {
			return fmt.Errorf("tier %s: sla minutes must be >= 1", tier)
		}
		if policy.RetryBudget < 0 {
			return fmt.Errorf("tier %s: retry budget cannot be negative", tier)
		}
	}
	return nil
}
