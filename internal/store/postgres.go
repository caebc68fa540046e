// Package store provides storage backends for conversation state.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// SaveConversation persists the full conversation state for its thread.
func (s *PostgresStore) SaveConversation(state models.ConversationState) error {
	state.UpdatedAt = time.Now()
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation state: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO conversations (thread_id, phone_number, stage, step, state_json, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (thread_id) DO UPDATE SET
			phone_number = EXCLUDED.phone_number,
			stage = EXCLUDED.stage,
			step = EXCLUDED.step,
			state_json = EXCLUDED.state_json,
			updated_at = EXCLUDED.updated_at`,
		state.ThreadID, state.PhoneNumber, string(state.CurrentStage), string(state.CurrentStep),
		payload, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveConversation failed", "error", err, "thread", state.ThreadID)
		return fmt.Errorf("failed to save conversation %s: %w", state.ThreadID, err)
	}
	slog.Debug("PostgresStore SaveConversation succeeded", "thread", state.ThreadID, "stage", state.CurrentStage)
	return nil
}

// GetConversation retrieves the state for a thread, or nil if absent.
func (s *PostgresStore) GetConversation(threadID string) (*models.ConversationState, error) {
	var payload []byte
	err := s.db.QueryRow(`SELECT state_json FROM conversations WHERE thread_id = $1`, threadID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversation failed", "error", err, "thread", threadID)
		return nil, fmt.Errorf("failed to query conversation %s: %w", threadID, err)
	}
	return unmarshalConversation(payload)
}

// GetConversationByPhone retrieves the live conversation for a phone number.
func (s *PostgresStore) GetConversationByPhone(phoneNumber string) (*models.ConversationState, error) {
	var payload []byte
	err := s.db.QueryRow(`
		SELECT state_json FROM conversations
		WHERE phone_number = $1 ORDER BY updated_at DESC LIMIT 1`, phoneNumber).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversationByPhone failed", "error", err, "phone", phoneNumber)
		return nil, fmt.Errorf("failed to query conversation for %s: %w", phoneNumber, err)
	}
	return unmarshalConversation(payload)
}

// DeleteConversation removes the state and checkpoints for a thread.
func (s *PostgresStore) DeleteConversation(threadID string) error {
	if _, err := s.db.Exec(`DELETE FROM conversations WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", threadID, err)
	}
	if _, err := s.db.Exec(`DELETE FROM checkpoints WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("failed to delete checkpoints for %s: %w", threadID, err)
	}
	slog.Info("PostgresStore DeleteConversation succeeded", "thread", threadID)
	return nil
}

// ListActiveConversations returns every non-terminal conversation.
func (s *PostgresStore) ListActiveConversations() ([]models.ConversationState, error) {
	rows, err := s.db.Query(`SELECT state_json FROM conversations WHERE stage != $1 ORDER BY thread_id`, string(models.StageCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to query active conversations: %w", err)
	}
	defer rows.Close()

	var states []models.ConversationState
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		state, err := unmarshalConversation(payload)
		if err != nil {
			return nil, err
		}
		states = append(states, *state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	return states, nil
}

// SaveCheckpoint appends a checkpoint, trimming history oldest-first.
func (s *PostgresStore) SaveCheckpoint(cp models.Checkpoint) error {
	payload, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint state: %w", err)
	}
	if _, err := s.db.Exec(`INSERT INTO checkpoints (thread_id, state_json, created_at) VALUES ($1, $2, $3)`,
		cp.ThreadID, payload, cp.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert checkpoint for %s: %w", cp.ThreadID, err)
	}
	// Trim history beyond the bound, oldest first.
	_, err = s.db.Exec(`
		DELETE FROM checkpoints WHERE thread_id = $1 AND id NOT IN (
			SELECT id FROM checkpoints WHERE thread_id = $1 ORDER BY id DESC LIMIT $2
		)`, cp.ThreadID, CheckpointHistoryLimit)
	if err != nil {
		return fmt.Errorf("failed to trim checkpoints for %s: %w", cp.ThreadID, err)
	}
	return nil
}

// LatestCheckpoint returns the most recent checkpoint for a thread, or nil.
func (s *PostgresStore) LatestCheckpoint(threadID string) (*models.Checkpoint, error) {
	var payload []byte
	var createdAt time.Time
	err := s.db.QueryRow(`
		SELECT state_json, created_at FROM checkpoints
		WHERE thread_id = $1 ORDER BY id DESC LIMIT 1`, threadID).Scan(&payload, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest checkpoint for %s: %w", threadID, err)
	}
	state, err := unmarshalConversation(payload)
	if err != nil {
		return nil, err
	}
	return &models.Checkpoint{ThreadID: threadID, State: *state, CreatedAt: createdAt}, nil
}

// AddDeliveryRecord persists one committed delivery audit entry.
func (s *PostgresStore) AddDeliveryRecord(rec models.DeliveryRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO deliveries (delivery_id, thread_id, target_node, stage, step, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.DeliveryID, rec.ThreadID, string(rec.TargetNode), string(rec.Stage), string(rec.Step), rec.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert delivery record %s: %w", rec.DeliveryID, err)
	}
	return nil
}

// GetDeliveryRecords returns the delivery audit entries for a thread.
func (s *PostgresStore) GetDeliveryRecords(threadID string) ([]models.DeliveryRecord, error) {
	rows, err := s.db.Query(`
		SELECT delivery_id, thread_id, target_node, stage, step, created_at
		FROM deliveries WHERE thread_id = $1 ORDER BY created_at`, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries for %s: %w", threadID, err)
	}
	defer rows.Close()

	var records []models.DeliveryRecord
	for rows.Next() {
		var rec models.DeliveryRecord
		var target, stage, step string
		if err := rows.Scan(&rec.DeliveryID, &rec.ThreadID, &target, &stage, &step, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan delivery row: %w", err)
		}
		rec.TargetNode = models.NodeName(target)
		rec.Stage = models.Stage(stage)
		rec.Step = models.Step(step)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AddReceipt records a transport delivery receipt.
func (s *PostgresStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES ($1, $2, $3)`, r.To, r.Status, r.Time)
	if err != nil {
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

// AddResponse records an inbound message.
func (s *PostgresStore) AddResponse(r models.Response) error {
	_, err := s.db.Exec(`INSERT INTO responses (sender, body, time) VALUES ($1, $2, $3)`, r.From, r.Body, r.Time)
	if err != nil {
		return fmt.Errorf("failed to insert response from %s: %w", r.From, err)
	}
	return nil
}

// Close releases backend resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func unmarshalConversation(payload []byte) (*models.ConversationState, error) {
	var state models.ConversationState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation state: %w", err)
	}
	return &state, nil
}
