package audit

import (
	"context"
	"database/sql"

	"github.com/mbd888/remediation-agent/internal/decisionmaker"
	"github.com/mbd888/remediation-agent/internal/payment"
)

// Compile-time assertions.
var (
	_ OutcomeStore = (*PostgresStore)(nil)
	_ DenialStore  = (*PostgresStore)(nil)
)

// PostgresStore is the optional durable OutcomeStore/DenialStore backed by
// PostgreSQL (SPEC_FULL.md: "default wiring stays in-memory; Postgres is
// an optional adapter behind the same interface"). Schema is managed by
// cmd/migrate (migrations/0001_create_audit_tables.sql).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-opened, already-migrated *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) RecordOutcome(ctx context.Context, rec OutcomeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_outcomes (
			action_id, action_type, target, risk_level,
			authorization_level, confidence, reasoning, estimated_delta,
			actual_delta, status, approver, created_at, executed_at, rolled_back_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (action_id) DO UPDATE SET
			actual_delta   = EXCLUDED.actual_delta,
			status         = EXCLUDED.status,
			executed_at    = COALESCE(action_outcomes.executed_at, EXCLUDED.executed_at),
			rolled_back_at = EXCLUDED.rolled_back_at
	`,
		rec.ActionID, string(rec.ActionType), rec.Target,
		string(rec.RiskLevel), string(rec.AuthorizationLevel), rec.Confidence, rec.Reasoning,
		rec.EstimatedDelta, rec.ActualDelta, string(rec.Status), rec.Approver,
		rec.CreatedAt, rec.ExecutedAt, rec.RolledBackAt,
	)
	return err
}

func (s *PostgresStore) RecentOutcomes(ctx context.Context, limit int) ([]OutcomeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT action_id, action_type, target, risk_level,
		       authorization_level, confidence, reasoning, estimated_delta,
		       actual_delta, status, approver, created_at, executed_at, rolled_back_at
		FROM action_outcomes
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []OutcomeRecord
	for rows.Next() {
		var rec OutcomeRecord
		var actionType, riskLevel, authLevel, status string
		if err := rows.Scan(
			&rec.ActionID, &actionType, &rec.Target, &riskLevel,
			&authLevel, &rec.Confidence, &rec.Reasoning, &rec.EstimatedDelta,
			&rec.ActualDelta, &status, &rec.Approver, &rec.CreatedAt,
			&rec.ExecutedAt, &rec.RolledBackAt,
		); err != nil {
			return nil, err
		}
		rec.ActionType = payment.ActionType(actionType)
		rec.RiskLevel = payment.RiskLevel(riskLevel)
		rec.AuthorizationLevel = payment.AuthorizationLevel(authLevel)
		rec.Status = decisionmaker.ActionStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecordDenial(ctx context.Context, rec DenialRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_denials (pattern_type, action_type, reason, created_at)
		VALUES ($1, $2, $3, $4)
	`, string(rec.PatternType), string(rec.ActionType), rec.Reason, rec.CreatedAt)
	return err
}

func (s *PostgresStore) RecentDenials(ctx context.Context, limit int) ([]DenialRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern_type, action_type, reason, created_at
		FROM action_denials
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []DenialRecord
	for rows.Next() {
		var rec DenialRecord
		var patternType, actionType string
		if err := rows.Scan(&patternType, &actionType, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.PatternType = payment.PatternType(patternType)
		rec.ActionType = payment.ActionType(actionType)
		out = append(out, rec)
	}
	return out, rows.Err()
}
