// access_log.go defines the AccessLogEntry model. Every query, read, or
// export against the event store produces one entry recording who looked at
// the audit log, with what filter, and how many rows came back — access to
// audit history is itself a security-relevant fact. Entries are append-only.
package models

import "time"

// Access types recorded by the read path.
const (
	AccessList   = "list"
	AccessGet    = "get"
	AccessStats  = "stats"
	AccessExport = "export"
)

// AccessLogEntry is one meta-audit record of a read against the event store.
type AccessLogEntry struct {
	ID           string         `db:"id"` // ULID
	AccessedAt   time.Time      `db:"accessed_at"`
	AccessorID   string         `db:"accessor_id"`
	AccessType   string         `db:"access_type"`
	QueryFilters map[string]any `db:"-"` // marshalled to JSONB by the repository
	RowCount     int            `db:"row_count"`
	RequestID    *string        `db:"request_id"`
	IP           *string        `db:"ip"`
}
