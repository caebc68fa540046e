// Package recovery restores conversation state after an application restart.
//
// Delivery commits state and checkpoint together, so a crash can leave a
// conversation record that disagrees with its own stage/step tables. On
// startup every active conversation is audited and, when inconsistent,
// rolled back to its latest checkpoint.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/store"
)

// Stats summarizes one recovery pass.
type Stats struct {
	Scanned    int
	Consistent int
	Restored   int
	Repaired   int
	Failed     int
}

// Manager audits and repairs conversations on startup.
type Manager struct {
	store store.Store
}

// NewManager creates a recovery manager over the canonical store.
func NewManager(st store.Store) *Manager {
	return &Manager{store: st}
}

// RecoverAll audits every active conversation. Inconsistent conversations are
// restored from their latest checkpoint; conversations with no usable
// checkpoint are repaired in place to the entry step of their stage.
func (m *Manager) RecoverAll(ctx context.Context) (Stats, error) {
	var stats Stats

	conversations, err := m.store.ListActiveConversations()
	if err != nil {
		return stats, fmt.Errorf("failed to list active conversations: %w", err)
	}

	for i := range conversations {
		state := &conversations[i]
		stats.Scanned++

		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if consistent(state) {
			stats.Consistent++
			continue
		}

		slog.Warn("Recovery found inconsistent conversation", "thread", state.ThreadID,
			"stage", state.CurrentStage, "step", state.CurrentStep)

		switch err := m.recoverOne(state); {
		case err != nil:
			slog.Error("Recovery failed for conversation", "error", err, "thread", state.ThreadID)
			stats.Failed++
		case state.CurrentStep == models.EntryStep(state.CurrentStage):
			stats.Repaired++
		default:
			stats.Restored++
		}
	}

	slog.Info("Recovery pass complete", "scanned", stats.Scanned,
		"consistent", stats.Consistent, "restored", stats.Restored,
		"repaired", stats.Repaired, "failed", stats.Failed)
	return stats, nil
}

// recoverOne rolls a conversation back to its latest consistent checkpoint,
// or repairs the step in place when no checkpoint qualifies.
func (m *Manager) recoverOne(state *models.ConversationState) error {
	cp, err := m.store.LatestCheckpoint(state.ThreadID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint for %s: %w", state.ThreadID, err)
	}
	if cp != nil && consistent(&cp.State) {
		restored := cp.State.Clone()
		if err := m.store.SaveConversation(*restored); err != nil {
			return fmt.Errorf("failed to restore %s from checkpoint: %w", state.ThreadID, err)
		}
		*state = *restored
		slog.Info("Recovery restored conversation from checkpoint", "thread", state.ThreadID,
			"stage", state.CurrentStage, "step", state.CurrentStep, "checkpoint_at", cp.CreatedAt)
		return nil
	}

	// No usable checkpoint: keep the stage, reset the step to its entry.
	state.CurrentStep = models.EntryStep(state.CurrentStage)
	if err := m.store.SaveConversation(*state); err != nil {
		return fmt.Errorf("failed to repair %s: %w", state.ThreadID, err)
	}
	slog.Info("Recovery repaired conversation in place", "thread", state.ThreadID,
		"stage", state.CurrentStage, "step", state.CurrentStep)
	return nil
}

// consistent reports whether the committed stage/step pair is valid.
func consistent(state *models.ConversationState) bool {
	if !models.IsValidStage(state.CurrentStage) {
		return false
	}
	return models.StepBelongsToStage(state.CurrentStage, state.CurrentStep)
}
