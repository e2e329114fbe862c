// retention_policy.go defines the RetentionPolicy model: one row per
// (event_category, event_action-or-wildcard) pair describing how long events
// stay in each storage tier. Policies are configuration, consulted by the
// external archival job; the audit pipeline itself never writes them.
package models

import "time"

// RetentionPolicy describes the lifetime of events in one category/action
// scope. A nil EventAction makes the policy a category-wide wildcard; an
// exact (category, action) policy always wins over the wildcard.
type RetentionPolicy struct {
	ID                      int64   `db:"id"`
	EventCategory           string  `db:"event_category"`
	EventAction             *string `db:"event_action"` // nil = wildcard for the whole category
	HotDays                 int     `db:"hot_days"`
	WarmDays                int     `db:"warm_days"`
	ColdDays                int     `db:"cold_days"`
	PermanentRetention      bool    `db:"permanent_retention"`
	ComplianceJustification string  `db:"compliance_justification"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// IsWildcard reports whether the policy applies to every action in its
// category.
func (p *RetentionPolicy) IsWildcard() bool {
	return p.EventAction == nil
}
