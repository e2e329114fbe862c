// event_repository.go implements EventRepository, the only write and read
// path for the hash-chained audit event store.
//
// The insert path is one sequential function: lock the chain tail, assign the
// next sequence number and predecessor hash, compute the diff (if not already
// supplied), compute the event hash, insert the row, advance the tail. The
// tail row is locked FOR UPDATE for the duration of the transaction, so
// concurrent inserts serialize on chain linkage only — two events can never
// claim the same predecessor.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/jcom-dev/zmanim-audit/internal/audit"
	"github.com/jcom-dev/zmanim-audit/internal/db/models"
	"github.com/jcom-dev/zmanim-audit/internal/diff"
)

// EventRepository handles audit event database operations
type EventRepository struct {
	db *sql.DB

	// chainLookback bounds the predecessor query used only when the chain
	// tail row is missing, e.g. a first deployment over a database that
	// already holds events. It assumes events are written close to real
	// time; in normal operation the tail row makes it irrelevant.
	chainLookback time.Duration
}

// NewEventRepository creates a new EventRepository. lookbackHours bounds the
// bootstrap predecessor search; see Config.Audit.ChainLookbackHours.
func NewEventRepository(db *sql.DB, lookbackHours int) *EventRepository {
	return &EventRepository{
		db:            db,
		chainLookback: time.Duration(lookbackHours) * time.Hour,
	}
}

// EventFilters contains filters for querying events
type EventFilters struct {
	Category     *string
	Action       *string
	ActorID      *string
	ResourceType *string
	ResourceID   *string
	PublisherID  *int64
	Status       *string
	Severity     *string
	Start        *time.Time
	End          *time.Time
}

// Cursor is a keyset pagination position: the (occurred_at, id) of the last
// row the client has seen. Keyset pagination stays O(page) on a partitioned
// table where OFFSET would scan and discard.
type Cursor struct {
	OccurredAt time.Time
	ID         string
}

const eventColumns = `
	id, sequence_num, event_category, event_action, event_type, event_severity, occurred_at,
	actor_id, actor_auth_provider_id, actor_name, actor_ip, actor_user_agent, actor_is_system,
	impersonator_id, api_key_id, publisher_id, publisher_slug,
	resource_type, resource_id, resource_name, parent_resource_type, parent_resource_id,
	operation_type, changes_before, changes_after, changes_diff,
	request_id, trace_id, session_id, transaction_id, parent_event_id,
	status, error_code, error_message, duration_ms, geo_country, geo_city,
	metadata, tags, event_hash, previous_event_hash, retention_tier`

// Insert persists one event in its own transaction.
func (r *EventRepository) Insert(ctx context.Context, e *models.Event) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event insert: %w", err)
	}
	defer tx.Rollback()

	if err := r.InsertTx(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit()
}

// InsertTx persists one event inside the caller's transaction, assigning the
// chain fields under the chain tail lock. The caller commits or rolls back;
// a rollback also rolls back the tail advance, leaving no gap in the chain.
func (r *EventRepository) InsertTx(ctx context.Context, tx *sql.Tx, e *models.Event) error {
	lastSeq, lastHash, err := r.lockChainTail(ctx, tx)
	if err != nil {
		return err
	}

	e.SequenceNum = lastSeq + 1
	e.PreviousEventHash = lastHash

	// The diff is part of the record the hash attests to, so it must exist
	// before the hash is computed. Normally the recorder has already done
	// this; computing it here keeps the ordering guarantee local to the one
	// write path.
	if e.ChangesDiff == nil && e.OperationType == models.OpUpdate &&
		e.ChangesBefore != nil && e.ChangesAfter != nil {
		e.ChangesDiff = diff.Compute(e.ChangesBefore, e.ChangesAfter)
	}

	e.EventHash = audit.ComputeHash(e, e.PreviousEventHash)

	if err := r.insertRow(ctx, tx, e); err != nil {
		return fmt.Errorf("insert event %s: %w", e.ID, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE audit.chain_tail SET last_sequence = $1, last_hash = $2, updated_at = now() WHERE id = 1`,
		e.SequenceNum, e.EventHash,
	)
	if err != nil {
		return fmt.Errorf("advance chain tail: %w", err)
	}
	return nil
}

// lockChainTail reads the chain tail row FOR UPDATE, serializing chain
// linkage across concurrent inserts. When the tail row is absent (a database
// migrated from before the tail existed) it bootstraps from the most recent
// event inside the lookback window and recreates the row.
func (r *EventRepository) lockChainTail(ctx context.Context, tx *sql.Tx) (int64, *string, error) {
	var lastSeq int64
	var lastHash *string
	err := tx.QueryRowContext(ctx,
		`SELECT last_sequence, last_hash FROM audit.chain_tail WHERE id = 1 FOR UPDATE`,
	).Scan(&lastSeq, &lastHash)
	if err == nil {
		return lastSeq, lastHash, nil
	}
	if err != sql.ErrNoRows {
		return 0, nil, fmt.Errorf("lock chain tail: %w", err)
	}

	// Bootstrap: recover the tail from the newest recent event. The window
	// assumes near-real-time writes; an empty result starts a fresh chain.
	err = tx.QueryRowContext(ctx,
		`SELECT sequence_num, event_hash
		   FROM audit.events
		  WHERE occurred_at >= now() - make_interval(hours => $1)
		  ORDER BY occurred_at DESC, sequence_num DESC
		  LIMIT 1`,
		int(r.chainLookback.Hours()),
	).Scan(&lastSeq, &lastHash)
	if err != nil && err != sql.ErrNoRows {
		return 0, nil, fmt.Errorf("bootstrap chain tail: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit.chain_tail (id, last_sequence, last_hash) VALUES (1, $1, $2)`,
		lastSeq, lastHash,
	)
	if err != nil {
		return 0, nil, fmt.Errorf("seed chain tail: %w", err)
	}
	return lastSeq, lastHash, nil
}

func (r *EventRepository) insertRow(ctx context.Context, tx *sql.Tx, e *models.Event) error {
	changesBefore, err := marshalJSONB(e.ChangesBefore)
	if err != nil {
		return err
	}
	changesAfter, err := marshalJSONB(e.ChangesAfter)
	if err != nil {
		return err
	}
	var changesDiff []byte
	if e.ChangesDiff != nil {
		if changesDiff, err = json.Marshal(e.ChangesDiff); err != nil {
			return err
		}
	}
	metadata, err := marshalJSONB(e.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit.events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		        $21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
		        $31, $32, $33, $34, $35, $36, $37, $38, $39, $40,
		        $41, $42)
	`
	_, err = tx.ExecContext(ctx, query,
		e.ID, e.SequenceNum, e.EventCategory, e.EventAction, e.EventType, e.EventSeverity, e.OccurredAt,
		e.Actor.ID, e.Actor.AuthProviderID, e.Actor.Name, e.Actor.IP, e.Actor.UserAgent, e.Actor.IsSystem,
		e.ImpersonatorID, e.APIKeyID, e.PublisherID, e.PublisherSlug,
		e.Resource.Type, e.Resource.ID, e.Resource.Name, e.Resource.ParentType, e.Resource.ParentID,
		e.OperationType, changesBefore, changesAfter, changesDiff,
		e.RequestID, e.TraceID, e.SessionID, e.TransactionID, e.ParentEventID,
		e.Status, e.ErrorCode, e.ErrorMessage, e.DurationMs, e.GeoCountry, e.GeoCity,
		metadata, pq.Array(e.Tags), e.EventHash, e.PreviousEventHash, e.RetentionTier,
	)
	return err
}

// List retrieves events matching the filters, newest first, keyset-paginated
// by (occurred_at, id). A nil cursor starts from the newest event; the
// returned cursor is nil when no further page exists.
func (r *EventRepository) List(ctx context.Context, filters EventFilters, limit int, cursor *Cursor) ([]*models.Event, *Cursor, error) {
	query := `SELECT ` + eventColumns + ` FROM audit.events WHERE 1=1`
	args := make([]interface{}, 0)
	paramIndex := 1

	appendFilter := func(clause string, value interface{}) {
		query += fmt.Sprintf(clause, paramIndex)
		args = append(args, value)
		paramIndex++
	}

	if filters.Category != nil {
		appendFilter(` AND event_category = $%d`, *filters.Category)
	}
	if filters.Action != nil {
		appendFilter(` AND event_action = $%d`, *filters.Action)
	}
	if filters.ActorID != nil {
		appendFilter(` AND actor_id = $%d`, *filters.ActorID)
	}
	if filters.ResourceType != nil {
		appendFilter(` AND resource_type = $%d`, *filters.ResourceType)
	}
	if filters.ResourceID != nil {
		appendFilter(` AND resource_id = $%d`, *filters.ResourceID)
	}
	if filters.PublisherID != nil {
		appendFilter(` AND publisher_id = $%d`, *filters.PublisherID)
	}
	if filters.Status != nil {
		appendFilter(` AND status = $%d`, *filters.Status)
	}
	if filters.Severity != nil {
		appendFilter(` AND event_severity = $%d`, *filters.Severity)
	}
	if filters.Start != nil {
		appendFilter(` AND occurred_at >= $%d`, *filters.Start)
	}
	if filters.End != nil {
		appendFilter(` AND occurred_at < $%d`, *filters.End)
	}

	if cursor != nil {
		query += fmt.Sprintf(` AND (occurred_at, id) < ($%d, $%d)`, paramIndex, paramIndex+1)
		args = append(args, cursor.OccurredAt, cursor.ID)
		paramIndex += 2
	}

	query += fmt.Sprintf(` ORDER BY occurred_at DESC, id DESC LIMIT $%d`, paramIndex)
	args = append(args, limit+1) // one extra row to detect a further page

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	events := make([]*models.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *Cursor
	if len(events) > limit {
		events = events[:limit]
		last := events[len(events)-1]
		next = &Cursor{OccurredAt: last.OccurredAt, ID: last.ID}
	}
	return events, next, nil
}

// Get retrieves a single event by ID. Returns nil when no such event exists.
func (r *EventRepository) Get(ctx context.Context, eventID string) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM audit.events WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, eventID)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// CategoryCount is one row of the stats aggregation.
type CategoryCount struct {
	Category string `json:"category"`
	Status   string `json:"status"`
	Count    int64  `json:"count"`
}

// CountByCategory aggregates event counts by (category, status) over a time
// range, feeding the admin stats endpoint.
func (r *EventRepository) CountByCategory(ctx context.Context, start, end time.Time) ([]CategoryCount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT event_category, status, COUNT(*)
		   FROM audit.events
		  WHERE occurred_at >= $1 AND occurred_at < $2
		  GROUP BY event_category, status
		  ORDER BY event_category, status`,
		start, end,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make([]CategoryCount, 0)
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Category, &c.Status, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// FetchChainRecords returns the chain slice of every event in [start, end)
// in ascending chain order, prepended with the single event immediately
// before the range when one exists. The lookback row anchors validation so
// the first in-range event gets a real expected predecessor instead of being
// waved through as a possible genesis event.
func (r *EventRepository) FetchChainRecords(ctx context.Context, start, end time.Time) ([]audit.ChainRecord, error) {
	records := make([]audit.ChainRecord, 0)

	var anchor audit.ChainRecord
	err := r.db.QueryRowContext(ctx,
		`SELECT id, occurred_at, sequence_num, event_hash, previous_event_hash
		   FROM audit.events
		  WHERE occurred_at < $1
		  ORDER BY occurred_at DESC, sequence_num DESC
		  LIMIT 1`,
		start,
	).Scan(&anchor.ID, &anchor.OccurredAt, &anchor.SequenceNum, &anchor.EventHash, &anchor.PreviousEventHash)
	switch err {
	case nil:
		records = append(records, anchor)
	case sql.ErrNoRows:
		// Range starts at the chain origin.
	default:
		return nil, fmt.Errorf("fetch chain anchor: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, occurred_at, sequence_num, event_hash, previous_event_hash
		   FROM audit.events
		  WHERE occurred_at >= $1 AND occurred_at < $2
		  ORDER BY occurred_at ASC, sequence_num ASC`,
		start, end,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rec audit.ChainRecord
		if err := rows.Scan(&rec.ID, &rec.OccurredAt, &rec.SequenceNum, &rec.EventHash, &rec.PreviousEventHash); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	e := &models.Event{}
	var changesBefore, changesAfter, changesDiff, metadata []byte

	err := row.Scan(
		&e.ID, &e.SequenceNum, &e.EventCategory, &e.EventAction, &e.EventType, &e.EventSeverity, &e.OccurredAt,
		&e.Actor.ID, &e.Actor.AuthProviderID, &e.Actor.Name, &e.Actor.IP, &e.Actor.UserAgent, &e.Actor.IsSystem,
		&e.ImpersonatorID, &e.APIKeyID, &e.PublisherID, &e.PublisherSlug,
		&e.Resource.Type, &e.Resource.ID, &e.Resource.Name, &e.Resource.ParentType, &e.Resource.ParentID,
		&e.OperationType, &changesBefore, &changesAfter, &changesDiff,
		&e.RequestID, &e.TraceID, &e.SessionID, &e.TransactionID, &e.ParentEventID,
		&e.Status, &e.ErrorCode, &e.ErrorMessage, &e.DurationMs, &e.GeoCountry, &e.GeoCity,
		&metadata, pq.Array(&e.Tags), &e.EventHash, &e.PreviousEventHash, &e.RetentionTier,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSONB(changesBefore, &e.ChangesBefore); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(changesAfter, &e.ChangesAfter); err != nil {
		return nil, err
	}
	if changesDiff != nil {
		if err := json.Unmarshal(changesDiff, &e.ChangesDiff); err != nil {
			return nil, err
		}
	}
	if err := unmarshalJSONB(metadata, &e.Metadata); err != nil {
		return nil, err
	}
	return e, nil
}

func marshalJSONB(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalJSONB(b []byte, dst *map[string]any) error {
	if b == nil {
		return nil
	}
	return json.Unmarshal(b, dst)
}
