// retention_repository.go implements RetentionRepository, providing database
// queries for the retention policy configuration consulted by the archival
// process. Policies are ordinary mutable configuration rows, administered
// through the admin API.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jcom-dev/zmanim-audit/internal/db/models"
)

// RetentionRepository handles retention policy database operations
type RetentionRepository struct {
	db *sqlx.DB
}

// NewRetentionRepository creates a new RetentionRepository
func NewRetentionRepository(db *sqlx.DB) *RetentionRepository {
	return &RetentionRepository{db: db}
}

// List returns every retention policy, wildcards last within each category.
func (r *RetentionRepository) List(ctx context.Context) ([]*models.RetentionPolicy, error) {
	policies := make([]*models.RetentionPolicy, 0)
	query := `
		SELECT * FROM audit.retention_policies
		ORDER BY event_category, event_action NULLS LAST`
	err := r.db.SelectContext(ctx, &policies, query)
	return policies, err
}

// Get retrieves one policy by ID. Returns nil when no such policy exists.
func (r *RetentionRepository) Get(ctx context.Context, id int64) (*models.RetentionPolicy, error) {
	var policy models.RetentionPolicy
	query := `SELECT * FROM audit.retention_policies WHERE id = $1`
	err := r.db.GetContext(ctx, &policy, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

// Create inserts a new policy and fills in its assigned ID and timestamps.
func (r *RetentionRepository) Create(ctx context.Context, p *models.RetentionPolicy) error {
	query := `
		INSERT INTO audit.retention_policies
			(event_category, event_action, hot_days, warm_days, cold_days,
			 permanent_retention, compliance_justification)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query,
		p.EventCategory, p.EventAction, p.HotDays, p.WarmDays, p.ColdDays,
		p.PermanentRetention, p.ComplianceJustification,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// Update replaces the tunable fields of an existing policy. Returns
// sql.ErrNoRows when the policy does not exist.
func (r *RetentionRepository) Update(ctx context.Context, p *models.RetentionPolicy) error {
	query := `
		UPDATE audit.retention_policies SET
			hot_days = $2, warm_days = $3, cold_days = $4,
			permanent_retention = $5, compliance_justification = $6,
			updated_at = $7
		WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query,
		p.ID, p.HotDays, p.WarmDays, p.ColdDays,
		p.PermanentRetention, p.ComplianceJustification, time.Now(),
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a policy. Returns sql.ErrNoRows when it does not exist.
func (r *RetentionRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM audit.retention_policies WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Resolve returns the policy governing (category, action): an exact match
// when one exists, otherwise the category-wide wildcard, otherwise nil. The
// single query orders exact matches before wildcards and takes the first.
func (r *RetentionRepository) Resolve(ctx context.Context, category, action string) (*models.RetentionPolicy, error) {
	var policy models.RetentionPolicy
	query := `
		SELECT * FROM audit.retention_policies
		WHERE event_category = $1 AND (event_action = $2 OR event_action IS NULL)
		ORDER BY (event_action IS NULL)
		LIMIT 1`
	err := r.db.GetContext(ctx, &policy, query, category, action)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &policy, nil
}
