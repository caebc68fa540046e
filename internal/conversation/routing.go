package conversation

import (
	"log/slog"
	"time"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
)

// Router computes, after every node, the name of the next node. Every edge
// function follows the same fixed priority order:
//
//  1. circuit breaker — when active, emergency progression pre-empts every
//     other signal;
//  2. handoff condition — explicit confusion/failure signals;
//  3. intent overrides — booking/skip signals jump ahead of stage logic;
//  4. stage-specific completion — the node's stated target;
//  5. default — stay in the current stage.
type Router struct {
	breaker *CircuitBreaker
}

// NewRouter creates a router over the given circuit breaker.
func NewRouter(breaker *CircuitBreaker) *Router {
	return &Router{breaker: breaker}
}

// Route computes the routing decision for one turn. It records the edge call
// and, on circuit breaker activation, the activation entry the emergency
// progression node later re-reads.
func (r *Router) Route(state *models.ConversationState, outcome NodeOutcome, userMessage string) models.RoutingDecision {
	state.Trail.EdgeFunctionCalls++

	decision := r.route(state, outcome, userMessage)

	state.Trail.RecordDecision(models.DecisionEntry{
		Kind:      models.DecisionRouting,
		Target:    decision.TargetNode,
		Detail:    decision.Reason,
		Timestamp: time.Now(),
	})
	slog.Debug("Router decided", "phone", state.PhoneNumber, "stage", state.CurrentStage,
		"target", decision.TargetNode, "corrected", decision.Corrected, "reason", decision.Reason)
	return decision
}

// RouteRecovery routes the outcome of an emergency progression turn. The
// breaker is not re-checked here: this turn's activation was just consumed,
// its counters reset and the cap baseline moved. Intent overrides are skipped
// for the same reason; the recovery target stands.
func (r *Router) RouteRecovery(state *models.ConversationState, outcome NodeOutcome) models.RoutingDecision {
	state.Trail.EdgeFunctionCalls++

	var decision models.RoutingDecision
	switch {
	case outcome.SignalHandoff:
		decision = models.RoutingDecision{
			TargetNode:     models.NodeHandoff,
			OriginalTarget: models.NodeHandoff,
			Reason:         "handoff_signal",
		}
	case outcome.Target != "":
		decision = r.validated(state, outcome.Target, "breaker_recovery")
	default:
		decision = r.validated(state, defaultTargetFor(state.CurrentStage), "breaker_recovery")
	}

	state.Trail.RecordDecision(models.DecisionEntry{
		Kind:      models.DecisionRouting,
		Target:    decision.TargetNode,
		Detail:    decision.Reason,
		Timestamp: time.Now(),
	})
	return decision
}

func (r *Router) route(state *models.ConversationState, outcome NodeOutcome, userMessage string) models.RoutingDecision {
	// An explicit handoff signal is already the strongest de-escalation; the
	// breaker cannot do better than a human, so the signal wins even when the
	// counters crossed a threshold during this same turn.
	if outcome.SignalHandoff {
		return models.RoutingDecision{
			TargetNode:     models.NodeHandoff,
			OriginalTarget: models.NodeHandoff,
			Reason:         "handoff_signal",
		}
	}

	// 1. Circuit breaker pre-empts everything below.
	if result := r.breaker.Check(state); result.ShouldActivate {
		RecordActivation(state, result, time.Now())
		return models.RoutingDecision{
			TargetNode:     models.NodeEmergencyProgression,
			OriginalTarget: models.NodeEmergencyProgression,
			Reason:         "circuit_breaker:" + result.Trigger,
		}
	}

	// 2. Handoff condition.
	if DetectHumanRequest(userMessage) && state.Metrics.HumanRequests >= 2 {
		return models.RoutingDecision{
			TargetNode:     models.NodeHandoff,
			OriginalTarget: models.NodeHandoff,
			Reason:         "repeated_human_request",
		}
	}

	// 3. Intent overrides. Booking beats everything below; skip jumps ahead
	// of the remaining qualification questions.
	if DetectBookingIntent(userMessage) && state.CurrentStage != models.StageScheduling &&
		state.CurrentStage != models.StageConfirmation {
		return r.validated(state, models.NodeScheduling, "booking_intent")
	}
	if DetectSkipIntent(userMessage) &&
		(state.CurrentStage == models.StageGreeting || state.CurrentStage == models.StageQualification) {
		if state.Collected.HasMinimalFields() {
			return r.validated(state, models.NodeScheduling, "skip_intent")
		}
		return r.validated(state, models.NodeInformation, "skip_intent")
	}

	// 4. Stage-specific completion: the node's stated target.
	if outcome.Target != "" {
		return r.validated(state, outcome.Target, "node_target")
	}

	// 5. Default: stay in the current stage.
	return r.validated(state, defaultTargetFor(state.CurrentStage), "default_stay")
}

// validated checks the target against the legal-transition set and corrects
// illegal targets to the stage's own node.
func (r *Router) validated(state *models.ConversationState, target models.NodeName, reason string) models.RoutingDecision {
	if models.IsLegalTransition(state.CurrentStage, target) {
		return models.RoutingDecision{TargetNode: target, OriginalTarget: target, Reason: reason}
	}
	corrected := defaultTargetFor(state.CurrentStage)
	slog.Warn("Router corrected illegal transition", "phone", state.PhoneNumber,
		"stage", state.CurrentStage, "target", target, "corrected", corrected)
	return models.RoutingDecision{
		TargetNode:     corrected,
		OriginalTarget: target,
		Corrected:      true,
		Reason:         reason + ":corrected",
	}
}

// defaultTargetFor returns the stay-in-place target for a stage.
func defaultTargetFor(stage models.Stage) models.NodeName {
	switch stage {
	case models.StageGreeting:
		return models.NodeGreeting
	case models.StageQualification:
		return models.NodeQualification
	case models.StageInformation:
		return models.NodeInformation
	case models.StageScheduling:
		return models.NodeScheduling
	case models.StageValidation:
		return models.NodeValidation
	case models.StageConfirmation:
		return models.NodeConfirmation
	case models.StageHandoff:
		return models.NodeInformation
	case models.StageCompleted:
		return models.NodeEnd
	default:
		return models.NodeGreeting
	}
}

// NodeFor returns the node that handles messages arriving at a stage.
func NodeFor(stage models.Stage, nodes map[models.NodeName]Node) Node {
	return nodes[defaultTargetFor(stage)]
}
