package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/attachflow/relay/internal/model"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and verifies the connection.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	if connString == "" {
		return nil, fmt.Errorf("database connection string not configured")
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	migrationSQL := `
		CREATE TABLE IF NOT EXISTS flows (
		    id UUID PRIMARY KEY,
		    user_id VARCHAR(255) NOT NULL,
		    flow_name VARCHAR(255) NOT NULL,
		    senders TEXT NOT NULL DEFAULT '',
		    email_filter TEXT NOT NULL DEFAULT '',
		    drive_folder TEXT NOT NULL,
		    file_types TEXT[] NOT NULL DEFAULT '{}',
		    auto_run BOOLEAN NOT NULL DEFAULT FALSE,
		    frequency VARCHAR(32) NOT NULL DEFAULT '',
		    max_emails INT NOT NULL DEFAULT 0,
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		    updated_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_flows_user_id ON flows(user_id);

		CREATE TABLE IF NOT EXISTS flow_runs (
		    request_id VARCHAR(128) PRIMARY KEY,
		    flow_id UUID NOT NULL,
		    user_id VARCHAR(255) NOT NULL,
		    success BOOLEAN NOT NULL,
		    emails_found INT NOT NULL DEFAULT 0,
		    processed_emails INT NOT NULL DEFAULT 0,
		    saved_attachments INT NOT NULL DEFAULT 0,
		    error TEXT NOT NULL DEFAULT '',
		    finished_at TIMESTAMP WITH TIME ZONE NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_flow_runs_flow_id ON flow_runs(flow_id);
		CREATE INDEX IF NOT EXISTS idx_flow_runs_user_id ON flow_runs(user_id);
	`
	if _, err := s.pool.Exec(ctx, migrationSQL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// CreateFlow inserts a new flow, assigning id and timestamps.
func (s *PostgresStore) CreateFlow(ctx context.Context, flow *model.FlowConfig) error {
	if flow.ID == "" {
		flow.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	flow.CreatedAt = now
	flow.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO flows (id, user_id, flow_name, senders, email_filter, drive_folder,
		                   file_types, auto_run, frequency, max_emails, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		flow.ID, flow.UserID, flow.FlowName, flow.Senders, flow.EmailFilter, flow.DriveFolder,
		flow.FileTypes, flow.AutoRun, flow.Frequency, flow.MaxEmails, flow.CreatedAt, flow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert flow: %w", err)
	}
	return nil
}

// GetFlow loads one flow scoped to its owner.
func (s *PostgresStore) GetFlow(ctx context.Context, userID, flowID string) (*model.FlowConfig, error) {
	var flow model.FlowConfig
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, flow_name, senders, email_filter, drive_folder,
		       file_types, auto_run, frequency, max_emails, created_at, updated_at
		FROM flows WHERE id = $1 AND user_id = $2`, flowID, userID,
	).Scan(
		&flow.ID, &flow.UserID, &flow.FlowName, &flow.Senders, &flow.EmailFilter, &flow.DriveFolder,
		&flow.FileTypes, &flow.AutoRun, &flow.Frequency, &flow.MaxEmails, &flow.CreatedAt, &flow.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFlowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query flow: %w", err)
	}
	return &flow, nil
}

// ListFlows returns every flow the user owns, newest first.
func (s *PostgresStore) ListFlows(ctx context.Context, userID string) ([]model.FlowConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, flow_name, senders, email_filter, drive_folder,
		       file_types, auto_run, frequency, max_emails, created_at, updated_at
		FROM flows WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer rows.Close()

	var flows []model.FlowConfig
	for rows.Next() {
		var flow model.FlowConfig
		if err := rows.Scan(
			&flow.ID, &flow.UserID, &flow.FlowName, &flow.Senders, &flow.EmailFilter, &flow.DriveFolder,
			&flow.FileTypes, &flow.AutoRun, &flow.Frequency, &flow.MaxEmails, &flow.CreatedAt, &flow.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}
		flows = append(flows, flow)
	}
	return flows, rows.Err()
}

// UpdateFlow updates a flow in place, scoped to its owner.
func (s *PostgresStore) UpdateFlow(ctx context.Context, flow *model.FlowConfig) error {
	flow.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE flows
		SET flow_name = $3, senders = $4, email_filter = $5, drive_folder = $6,
		    file_types = $7, auto_run = $8, frequency = $9, max_emails = $10, updated_at = $11
		WHERE id = $1 AND user_id = $2`,
		flow.ID, flow.UserID, flow.FlowName, flow.Senders, flow.EmailFilter, flow.DriveFolder,
		flow.FileTypes, flow.AutoRun, flow.Frequency, flow.MaxEmails, flow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update flow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFlowNotFound
	}
	return nil
}

// DeleteFlow removes a flow, scoped to its owner.
func (s *PostgresStore) DeleteFlow(ctx context.Context, userID, flowID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM flows WHERE id = $1 AND user_id = $2`, flowID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFlowNotFound
	}
	return nil
}

// RecordRun writes one execution summary. Re-recording the same request id
// overwrites the previous row, so retried webhook deliveries stay idempotent.
func (s *PostgresStore) RecordRun(ctx context.Context, run *model.FlowRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO flow_runs (request_id, flow_id, user_id, success, emails_found,
		                       processed_emails, saved_attachments, error, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (request_id) DO UPDATE SET
		    success = EXCLUDED.success,
		    emails_found = EXCLUDED.emails_found,
		    processed_emails = EXCLUDED.processed_emails,
		    saved_attachments = EXCLUDED.saved_attachments,
		    error = EXCLUDED.error,
		    finished_at = EXCLUDED.finished_at`,
		run.RequestID, run.FlowID, run.UserID, run.Success, run.EmailsFound,
		run.ProcessedEmails, run.SavedAttachments, run.Error, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record flow run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs of one flow, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, userID, flowID string, limit int) ([]model.FlowRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT request_id, flow_id, user_id, success, emails_found,
		       processed_emails, saved_attachments, error, finished_at
		FROM flow_runs WHERE flow_id = $1 AND user_id = $2
		ORDER BY finished_at DESC LIMIT $3`, flowID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query flow runs: %w", err)
	}
	defer rows.Close()

	var runs []model.FlowRun
	for rows.Next() {
		var run model.FlowRun
		if err := rows.Scan(
			&run.RequestID, &run.FlowID, &run.UserID, &run.Success, &run.EmailsFound,
			&run.ProcessedEmails, &run.SavedAttachments, &run.Error, &run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan flow run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
