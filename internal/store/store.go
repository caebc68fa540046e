// Package store provides storage backends for conversation state.
//
// It includes an in-memory store for tests and persistent PostgreSQL and
// SQLite backends. The store is the single persistence boundary: all stage
// commits and checkpoints go through one Store implementation.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
)

// CheckpointHistoryLimit bounds the number of checkpoints kept per thread.
const CheckpointHistoryLimit = 10

// Opts holds configuration options for store backends.
type Opts struct {
	// DSN is the data source name for the database connection.
	DSN string
}

// Option defines a functional option for configuring stores.
type Option func(*Opts)

// WithDSN sets the data source name for the store.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType reports the database driver implied by a DSN: "postgres" for
// PostgreSQL URLs and key-value connection strings, "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// Store defines the persistence interface for conversation state, checkpoints
// and delivery audit records.
type Store interface {
	// SaveConversation persists the full conversation state for its thread.
	SaveConversation(state models.ConversationState) error

	// GetConversation retrieves the state for a thread, or nil if absent.
	GetConversation(threadID string) (*models.ConversationState, error)

	// GetConversationByPhone retrieves the live conversation for a phone
	// number, or nil if absent.
	GetConversationByPhone(phoneNumber string) (*models.ConversationState, error)

	// DeleteConversation removes the state and checkpoints for a thread.
	DeleteConversation(threadID string) error

	// ListActiveConversations returns every non-terminal conversation.
	ListActiveConversations() ([]models.ConversationState, error)

	// SaveCheckpoint appends a checkpoint, trimming history beyond
	// CheckpointHistoryLimit oldest-first.
	SaveCheckpoint(cp models.Checkpoint) error

	// LatestCheckpoint returns the most recent checkpoint for a thread, or nil.
	LatestCheckpoint(threadID string) (*models.Checkpoint, error)

	// AddDeliveryRecord persists one committed delivery audit entry.
	AddDeliveryRecord(rec models.DeliveryRecord) error

	// GetDeliveryRecords returns the delivery audit entries for a thread.
	GetDeliveryRecords(threadID string) ([]models.DeliveryRecord, error)

	// AddReceipt records a transport delivery receipt.
	AddReceipt(r models.Receipt) error

	// AddResponse records an inbound message.
	AddResponse(r models.Response) error

	// Close releases backend resources.
	Close() error
}

// InMemoryStore is a Store kept entirely in memory, used in tests and as the
// default when no DSN is configured.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]models.ConversationState
	checkpoints   map[string][]models.Checkpoint
	deliveries    map[string][]models.DeliveryRecord
	receipts      []models.Receipt
	responses     []models.Response
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]models.ConversationState),
		checkpoints:   make(map[string][]models.Checkpoint),
		deliveries:    make(map[string][]models.DeliveryRecord),
	}
}

// SaveConversation persists the full conversation state for its thread.
func (s *InMemoryStore) SaveConversation(state models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.UpdatedAt = time.Now()
	s.conversations[state.ThreadID] = *state.Clone()
	return nil
}

// GetConversation retrieves the state for a thread, or nil if absent.
func (s *InMemoryStore) GetConversation(threadID string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.conversations[threadID]
	if !ok {
		return nil, nil
	}
	return state.Clone(), nil
}

// GetConversationByPhone retrieves the live conversation for a phone number.
func (s *InMemoryStore) GetConversationByPhone(phoneNumber string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest *models.ConversationState
	for _, state := range s.conversations {
		if state.PhoneNumber != phoneNumber {
			continue
		}
		if newest == nil || state.UpdatedAt.After(newest.UpdatedAt) {
			st := state
			newest = &st
		}
	}
	if newest == nil {
		return nil, nil
	}
	return newest.Clone(), nil
}

// DeleteConversation removes the state and checkpoints for a thread.
func (s *InMemoryStore) DeleteConversation(threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, threadID)
	delete(s.checkpoints, threadID)
	return nil
}

// ListActiveConversations returns every non-terminal conversation.
func (s *InMemoryStore) ListActiveConversations() ([]models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active []models.ConversationState
	for _, state := range s.conversations {
		if state.CurrentStage != models.StageCompleted {
			active = append(active, *state.Clone())
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].ThreadID < active[j].ThreadID
	})
	return active, nil
}

// SaveCheckpoint appends a checkpoint, trimming history oldest-first.
func (s *InMemoryStore) SaveCheckpoint(cp models.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cps := append(s.checkpoints[cp.ThreadID], cp)
	if len(cps) > CheckpointHistoryLimit {
		cps = cps[len(cps)-CheckpointHistoryLimit:]
	}
	s.checkpoints[cp.ThreadID] = cps
	return nil
}

// LatestCheckpoint returns the most recent checkpoint for a thread, or nil.
func (s *InMemoryStore) LatestCheckpoint(threadID string) (*models.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cps := s.checkpoints[threadID]
	if len(cps) == 0 {
		return nil, nil
	}
	cp := cps[len(cps)-1]
	return &cp, nil
}

// AddDeliveryRecord persists one committed delivery audit entry.
func (s *InMemoryStore) AddDeliveryRecord(rec models.DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[rec.ThreadID] = append(s.deliveries[rec.ThreadID], rec)
	return nil
}

// GetDeliveryRecords returns the delivery audit entries for a thread.
func (s *InMemoryStore) GetDeliveryRecords(threadID string) ([]models.DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.DeliveryRecord(nil), s.deliveries[threadID]...), nil
}

// AddReceipt records a transport delivery receipt.
func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

// AddResponse records an inbound message.
func (s *InMemoryStore) AddResponse(r models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
	return nil
}

// GetReceipts returns all recorded receipts.
func (s *InMemoryStore) GetReceipts() []models.Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Receipt(nil), s.receipts...)
}

// GetResponses returns all recorded inbound messages.
func (s *InMemoryStore) GetResponses() []models.Response {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Response(nil), s.responses...)
}

// Close releases backend resources.
func (s *InMemoryStore) Close() error { return nil }
