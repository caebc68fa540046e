// Package store provides storage backends for conversation state.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements Store on SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveConversation persists the full conversation state for its thread.
func (s *SQLiteStore) SaveConversation(state models.ConversationState) error {
	state.UpdatedAt = time.Now()
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation state: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO conversations (thread_id, phone_number, stage, step, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (thread_id) DO UPDATE SET
			phone_number = excluded.phone_number,
			stage = excluded.stage,
			step = excluded.step,
			state_json = excluded.state_json,
			updated_at = excluded.updated_at`,
		state.ThreadID, state.PhoneNumber, string(state.CurrentStage), string(state.CurrentStep),
		string(payload), state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveConversation failed", "error", err, "thread", state.ThreadID)
		return fmt.Errorf("failed to save conversation %s: %w", state.ThreadID, err)
	}
	return nil
}

// GetConversation retrieves the state for a thread, or nil if absent.
func (s *SQLiteStore) GetConversation(threadID string) (*models.ConversationState, error) {
	var payload string
	err := s.db.QueryRow(`SELECT state_json FROM conversations WHERE thread_id = ?`, threadID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation %s: %w", threadID, err)
	}
	return unmarshalConversation([]byte(payload))
}

// GetConversationByPhone retrieves the live conversation for a phone number.
func (s *SQLiteStore) GetConversationByPhone(phoneNumber string) (*models.ConversationState, error) {
	var payload string
	err := s.db.QueryRow(`
		SELECT state_json FROM conversations
		WHERE phone_number = ? ORDER BY updated_at DESC LIMIT 1`, phoneNumber).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation for %s: %w", phoneNumber, err)
	}
	return unmarshalConversation([]byte(payload))
}

// DeleteConversation removes the state and checkpoints for a thread.
func (s *SQLiteStore) DeleteConversation(threadID string) error {
	if _, err := s.db.Exec(`DELETE FROM conversations WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", threadID, err)
	}
	if _, err := s.db.Exec(`DELETE FROM checkpoints WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("failed to delete checkpoints for %s: %w", threadID, err)
	}
	return nil
}

// ListActiveConversations returns every non-terminal conversation.
func (s *SQLiteStore) ListActiveConversations() ([]models.ConversationState, error) {
	rows, err := s.db.Query(`SELECT state_json FROM conversations WHERE stage != ? ORDER BY thread_id`, string(models.StageCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to query active conversations: %w", err)
	}
	defer rows.Close()

	var states []models.ConversationState
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		state, err := unmarshalConversation([]byte(payload))
		if err != nil {
			return nil, err
		}
		states = append(states, *state)
	}
	return states, rows.Err()
}

// SaveCheckpoint appends a checkpoint, trimming history oldest-first.
func (s *SQLiteStore) SaveCheckpoint(cp models.Checkpoint) error {
	payload, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint state: %w", err)
	}
	if _, err := s.db.Exec(`INSERT INTO checkpoints (thread_id, state_json, created_at) VALUES (?, ?, ?)`,
		cp.ThreadID, string(payload), cp.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert checkpoint for %s: %w", cp.ThreadID, err)
	}
	_, err = s.db.Exec(`
		DELETE FROM checkpoints WHERE thread_id = ? AND id NOT IN (
			SELECT id FROM checkpoints WHERE thread_id = ? ORDER BY id DESC LIMIT ?
		)`, cp.ThreadID, cp.ThreadID, CheckpointHistoryLimit)
	if err != nil {
		return fmt.Errorf("failed to trim checkpoints for %s: %w", cp.ThreadID, err)
	}
	return nil
}

// LatestCheckpoint returns the most recent checkpoint for a thread, or nil.
func (s *SQLiteStore) LatestCheckpoint(threadID string) (*models.Checkpoint, error) {
	var payload string
	var createdAt time.Time
	err := s.db.QueryRow(`
		SELECT state_json, created_at FROM checkpoints
		WHERE thread_id = ? ORDER BY id DESC LIMIT 1`, threadID).Scan(&payload, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest checkpoint for %s: %w", threadID, err)
	}
	state, err := unmarshalConversation([]byte(payload))
	if err != nil {
		return nil, err
	}
	return &models.Checkpoint{ThreadID: threadID, State: *state, CreatedAt: createdAt}, nil
}

// AddDeliveryRecord persists one committed delivery audit entry.
func (s *SQLiteStore) AddDeliveryRecord(rec models.DeliveryRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO deliveries (delivery_id, thread_id, target_node, stage, step, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.DeliveryID, rec.ThreadID, string(rec.TargetNode), string(rec.Stage), string(rec.Step), rec.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert delivery record %s: %w", rec.DeliveryID, err)
	}
	return nil
}

// GetDeliveryRecords returns the delivery audit entries for a thread.
func (s *SQLiteStore) GetDeliveryRecords(threadID string) ([]models.DeliveryRecord, error) {
	rows, err := s.db.Query(`
		SELECT delivery_id, thread_id, target_node, stage, step, created_at
		FROM deliveries WHERE thread_id = ? ORDER BY created_at`, threadID)
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
func (s *SQLiteStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES (?, ?, ?)`, r.To, r.Status, r.Time)
	if err != nil {
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

// AddResponse records an inbound message.
func (s *SQLiteStore) AddResponse(r models.Response) error {
	_, err := s.db.Exec(`INSERT INTO responses (sender, body, time) VALUES (?, ?, ?)`, r.From, r.Body, r.Time)
	if err != nil {
		return fmt.Errorf("failed to insert response from %s: %w", r.From, err)
	}
	return nil
}

// Close releases backend resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
