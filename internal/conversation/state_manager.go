package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/store"
	"github.com/google/uuid"
)

// StateManager loads, creates and persists conversation state against the
// canonical store. All stage/step persistence goes through the delivery
// service; the state manager only moves whole records.
type StateManager struct {
	store store.Store
}

// NewStateManager creates a StateManager backed by a Store.
func NewStateManager(st store.Store) *StateManager {
	slog.Debug("Creating StateManager")
	return &StateManager{store: st}
}

// LoadOrCreate returns the live conversation for a phone number, creating a
// fresh one at Greeting/Welcome when none exists. When threadID is empty the
// phone number's active thread is used, or a new thread is minted.
func (sm *StateManager) LoadOrCreate(ctx context.Context, phoneNumber, threadID string) (*models.ConversationState, error) {
	var state *models.ConversationState
	var err error

	if threadID != "" {
		state, err = sm.store.GetConversation(threadID)
	} else {
		state, err = sm.store.GetConversationByPhone(phoneNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if state != nil && !state.IsTerminal() {
		slog.Debug("StateManager loaded conversation", "phone", phoneNumber, "thread", state.ThreadID, "stage", state.CurrentStage)
		return state, nil
	}

	now := time.Now()
	if threadID == "" {
		threadID = uuid.NewString()
	}
	state = &models.ConversationState{
		PhoneNumber:    phoneNumber,
		ConversationID: uuid.NewString(),
		ThreadID:       threadID,
		CurrentStage:   models.StageGreeting,
		CurrentStep:    models.StepWelcome,
		Metrics:        models.ConversationMetrics{CreatedAt: now},
		Trail: models.DecisionTrail{
			LastDecisions: models.NewDecisionRing(models.MaxTrailDecisions),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := sm.store.SaveConversation(*state); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	slog.Info("StateManager created conversation", "phone", phoneNumber, "thread", threadID)
	return state, nil
}

// Get returns the conversation for a thread, or ErrConversationNotFound.
func (sm *StateManager) Get(ctx context.Context, threadID string) (*models.ConversationState, error) {
	state, err := sm.store.GetConversation(threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", threadID, err)
	}
	if state == nil {
		return nil, models.ErrConversationNotFound
	}
	return state, nil
}

// Checkpoint persists a recovery snapshot of the state.
func (sm *StateManager) Checkpoint(ctx context.Context, state *models.ConversationState) error {
	cp := models.Checkpoint{
		ThreadID:  state.ThreadID,
		State:     *state.Clone(),
		CreatedAt: time.Now(),
	}
	if err := sm.store.SaveCheckpoint(cp); err != nil {
		return fmt.Errorf("failed to checkpoint conversation %s: %w", state.ThreadID, err)
	}
	return nil
}

// Reset administratively removes a conversation and its checkpoints.
func (sm *StateManager) Reset(ctx context.Context, threadID string) error {
	if err := sm.store.DeleteConversation(threadID); err != nil {
		return fmt.Errorf("failed to reset conversation %s: %w", threadID, err)
	}
	slog.Info("StateManager reset conversation", "thread", threadID)
	return nil
}

// Store exposes the backing store to the delivery service, which shares the
// same persistence boundary.
func (sm *StateManager) Store() store.Store {
	return sm.store
}
