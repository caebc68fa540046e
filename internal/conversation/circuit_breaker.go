// Package conversation implements the receptionist conversation graph: stage
// nodes, routing edges, the circuit breaker and the validation engines.
package conversation

import (
	"log/slog"
	"time"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/config"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
)

// BreakerAction is the recovery path recommended by the circuit breaker.
type BreakerAction string

const (
	// ActionNone means no activation.
	ActionNone BreakerAction = ""
	// ActionHandoff gives up and routes to a human.
	ActionHandoff BreakerAction = "handoff"
	// ActionEmergencyScheduling skips straight to booking.
	ActionEmergencyScheduling BreakerAction = "emergency_scheduling"
	// ActionInformationBypass skips straight to informational content.
	ActionInformationBypass BreakerAction = "information_bypass"
)

// BreakerResult is the outcome of a circuit breaker check.
type BreakerResult struct {
	ShouldActivate    bool
	RecommendedAction BreakerAction
	Trigger           string
}

// BreakerUpdate is the set of state mutations an activation produces. The
// breaker never mutates state directly; the caller applies the update.
type BreakerUpdate struct {
	Target        models.NodeName
	ResetCounters bool
}

// CircuitBreaker detects stuck conversations and forces progress. It is
// read-only with respect to stage/step: it only classifies and recommends.
type CircuitBreaker struct {
	cfg config.CircuitBreaker
}

// NewCircuitBreaker creates a breaker with the given thresholds.
func NewCircuitBreaker(cfg config.CircuitBreaker) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg}
}

// Check inspects the conversation metrics and decides whether normal routing
// must be bypassed. It never returns an error: if its own computation cannot
// complete it fails open (no activation) so a breaker bug cannot cause a
// false-positive handoff.
func (cb *CircuitBreaker) Check(state *models.ConversationState) (result BreakerResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("CircuitBreaker check panicked, failing open", "panic", r)
			result = BreakerResult{}
		}
	}()

	if state == nil {
		return BreakerResult{}
	}
	m := state.Metrics

	var trigger string
	switch {
	case m.FailedAttempts >= cb.cfg.FailureThreshold:
		trigger = "failed_attempts"
	case m.ConsecutiveConfusion >= cb.cfg.ConfusionThreshold:
		trigger = "consecutive_confusion"
	case m.SameQuestionCount >= cb.cfg.SameQuestionThreshold:
		trigger = "same_question_count"
	case m.MessageCount-m.MessagesAtLastRecovery > cb.cfg.MessageCap:
		// The cap is measured from the last recovery baseline. Without it a
		// conversation past the cap would re-trip on every turn and the
		// emergency node would consume all further user input.
		trigger = "message_cap"
	default:
		return BreakerResult{}
	}

	action := cb.selectAction(state)
	slog.Info("CircuitBreaker activated", "phone", state.PhoneNumber, "trigger", trigger, "action", action,
		"failed_attempts", m.FailedAttempts, "message_count", m.MessageCount)
	return BreakerResult{ShouldActivate: true, RecommendedAction: action, Trigger: trigger}
}

// selectAction applies the fixed action priority: repeated human requests
// outrank everything; with minimal business fields collected prefer emergency
// scheduling; very high failures with nothing collected mean handoff; default
// is the information bypass.
func (cb *CircuitBreaker) selectAction(state *models.ConversationState) BreakerAction {
	if state.Metrics.HumanRequests >= 2 {
		return ActionHandoff
	}
	if state.Collected.HasMinimalFields() {
		return ActionEmergencyScheduling
	}
	if state.Metrics.FailedAttempts >= cb.cfg.HandoffFailures {
		return ActionHandoff
	}
	return ActionInformationBypass
}

// Apply maps an action to the state mutations it implies. The returned update
// carries a canonical routing target plus a counter reset; the caller applies
// it, and the delivery service remains the only stage/step writer.
func (cb *CircuitBreaker) Apply(action BreakerAction) BreakerUpdate {
	switch action {
	case ActionEmergencyScheduling:
		return BreakerUpdate{Target: models.NodeScheduling, ResetCounters: true}
	case ActionInformationBypass:
		return BreakerUpdate{Target: models.NodeInformation, ResetCounters: true}
	case ActionHandoff:
		return BreakerUpdate{Target: models.NodeHandoff, ResetCounters: true}
	default:
		return BreakerUpdate{}
	}
}

// RecordActivation appends the activation to the decision trail. The
// emergency progression node recovers the action from this trail entry
// (most-recent-first scan); it is the only channel the action travels on.
func RecordActivation(state *models.ConversationState, result BreakerResult, now time.Time) {
	state.Trail.RecordDecision(models.DecisionEntry{
		Kind:      models.DecisionCircuitBreakerAction,
		Action:    string(result.RecommendedAction),
		Detail:    result.Trigger,
		Timestamp: now,
	})
}
