package messaging

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/store"
	"github.com/google/uuid"
)

// DeliveryResult is the non-throwing outcome of one delivery attempt. Stage
// and Step always reflect the persisted values: the new ones on commit, the
// untouched prior ones on failure.
type DeliveryResult struct {
	Delivered    bool
	Committed    bool
	UsedFallback bool
	DeliveryID   string
	// Body is the message text actually attempted, which is the fallback
	// text when the candidate was substituted.
	Body   string
	Stage  models.Stage
	Step   models.Step
	Reason string
}

// DeliveryService sends the response and, only after the transport accepts
// it, commits the stage transition. It is the sole writer of CurrentStage and
// CurrentStep: a failed send leaves the conversation exactly where it was.
type DeliveryService struct {
	svc   Service
	store store.Store
}

// NewDeliveryService creates a DeliveryService over a transport and the
// canonical store.
func NewDeliveryService(svc Service, st store.Store) *DeliveryService {
	return &DeliveryService{svc: svc, store: st}
}

// Deliver validates the candidate response, sends it, and commits the
// transition decided by the router. Every failure mode returns a result
// instead of an error so one contact's bad turn never aborts the pipeline.
func (d *DeliveryService) Deliver(ctx context.Context, state *models.ConversationState, decision models.RoutingDecision, response string, nextStep models.Step) DeliveryResult {
	failure := func(reason string) DeliveryResult {
		slog.Warn("DeliveryService delivery failed", "phone", state.PhoneNumber,
			"thread", state.ThreadID, "reason", reason)
		return DeliveryResult{Stage: state.CurrentStage, Step: state.CurrentStep, Reason: reason}
	}

	// The target must be legal before anything leaves the building.
	newStage, canonicalStep, err := models.MapTargetToStageStep(decision.TargetNode, state.CurrentStage)
	if err != nil {
		return failure("invalid_target: " + err.Error())
	}

	recipient, err := d.svc.ValidateAndCanonicalizeRecipient(state.PhoneNumber)
	if err != nil {
		return failure("invalid_recipient: " + err.Error())
	}

	body := response
	usedFallback := false
	if err := ValidateResponse(body); err != nil {
		slog.Warn("DeliveryService candidate response invalid, using fallback",
			"phone", state.PhoneNumber, "error", err)
		body = fallbackMessageFor(decision.TargetNode)
		usedFallback = true
	}

	if err := d.svc.SendMessage(ctx, recipient, body); err != nil {
		if usedFallback {
			res := failure("send_failed: " + err.Error())
			res.Body = body
			res.UsedFallback = true
			return res
		}
		// One retry with the generic fallback, then give up with nothing
		// persisted.
		slog.Warn("DeliveryService send failed, retrying with fallback",
			"phone", state.PhoneNumber, "error", err)
		body = fallbackMessageFor(decision.TargetNode)
		usedFallback = true
		if err := d.svc.SendMessage(ctx, recipient, body); err != nil {
			res := failure("send_failed: " + err.Error())
			res.Body = body
			res.UsedFallback = true
			return res
		}
	}

	// The transport accepted the message: commit.
	newStep := commitStep(state, newStage, canonicalStep, nextStep)
	now := time.Now()
	deliveryID := uuid.NewString()

	state.AppendMessage(models.RoleAssistant, body, now)
	state.CurrentStage = newStage
	state.CurrentStep = newStep
	state.UpdatedAt = now
	state.Trail.RecordDecision(models.DecisionEntry{
		Kind:      models.DecisionDeliveryCommit,
		Target:    decision.TargetNode,
		Detail:    "delivery " + deliveryID,
		Timestamp: now,
	})

	result := DeliveryResult{
		Delivered:    true,
		Committed:    true,
		UsedFallback: usedFallback,
		DeliveryID:   deliveryID,
		Body:         body,
		Stage:        newStage,
		Step:         newStep,
	}

	if err := d.store.SaveConversation(*state); err != nil {
		// The message is out but the transition is not durable. Surface the
		// partial commit; recovery replays from the last checkpoint.
		slog.Error("DeliveryService failed to persist conversation after send",
			"error", err, "phone", state.PhoneNumber, "thread", state.ThreadID)
		result.Committed = false
		result.Reason = "persist_failed"
		return result
	}
	if err := d.store.AddDeliveryRecord(models.DeliveryRecord{
		DeliveryID: deliveryID,
		ThreadID:   state.ThreadID,
		TargetNode: decision.TargetNode,
		Stage:      newStage,
		Step:       newStep,
		Timestamp:  now,
	}); err != nil {
		slog.Error("DeliveryService failed to record delivery", "error", err, "thread", state.ThreadID)
	}
	if err := d.store.SaveCheckpoint(models.Checkpoint{
		ThreadID:  state.ThreadID,
		State:     *state.Clone(),
		CreatedAt: now,
	}); err != nil {
		slog.Error("DeliveryService failed to checkpoint", "error", err, "thread", state.ThreadID)
	}

	slog.Info("DeliveryService committed transition", "phone", state.PhoneNumber,
		"thread", state.ThreadID, "stage", newStage, "step", newStep,
		"delivery_id", deliveryID, "fallback", usedFallback)
	return result
}

// commitStep selects the step to commit alongside the canonical stage. A node
// may refine the step within the committed stage; anything else falls back to
// the stage's canonical entry.
func commitStep(state *models.ConversationState, newStage models.Stage, canonicalStep models.Step, nextStep models.Step) models.Step {
	if nextStep != "" && models.StepBelongsToStage(newStage, nextStep) {
		return nextStep
	}
	if newStage == state.CurrentStage && models.StepBelongsToStage(newStage, state.CurrentStep) {
		return state.CurrentStep
	}
	return canonicalStep
}

// ValidateResponse rejects candidate responses that must never reach a
// contact: empty bodies, oversized bodies, and unresolved template
// placeholders.
func ValidateResponse(body string) error {
	if strings.TrimSpace(body) == "" {
		return models.ErrEmptyResponse
	}
	if len(body) > models.MaxResponseLength {
		return models.ErrResponseTooLong
	}
	if strings.Contains(body, "{{") || strings.Contains(body, "}}") {
		return models.ErrUnresolvedPlaceholder
	}
	return nil
}

// fallbackMessageFor returns the generic on-brand message for a target node,
// used when the candidate response cannot be sent as-is.
func fallbackMessageFor(target models.NodeName) string {
	switch target {
	case models.NodeScheduling:
		return "Vamos agendar sua visita à unidade! Qual dia da semana fica melhor para você?"
	case models.NodeHandoff:
		return "Vou pedir para nossa equipe falar com você pessoalmente. Obrigada pelo contato!"
	case models.NodeConfirmation, models.NodeEnd:
		return "Tudo certo! Qualquer dúvida, é só chamar. Até breve! 😊"
	case models.NodeQualification:
		return "Me conta um pouco mais para eu te ajudar melhor: a idade de quem vai estudar, por exemplo."
	default:
		return "Estou aqui para te ajudar com informações sobre o Kumon Vila A. O que gostaria de saber?"
	}
}
