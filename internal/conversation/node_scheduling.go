package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/calendar"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/config"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
)

// emailPattern is the strict email check gating progression to booking.
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// saturdayUnavailableMessage is the fixed weekend rejection. The unit does not
// open on weekends and the message must not vary.
const saturdayUnavailableMessage = "A unidade não abre aos sábados e domingos. 😕 Atendemos de segunda a sexta, das 9h às 18h. Qual dia da semana fica melhor para você?"

var weekendKeywords = []string{"sábado", "sabado", "domingo", "fim de semana", "final de semana"}

// SchedulingNode books the visit: date preference, time slot, email and the
// calendar event.
type SchedulingNode struct {
	backend calendar.Backend
	cfg     config.Scheduling
	human   string
}

// NewSchedulingNode creates the scheduling node. A nil backend means every
// booking falls back to the human contact.
func NewSchedulingNode(backend calendar.Backend, cfg config.Scheduling, humanContact string) *SchedulingNode {
	return &SchedulingNode{backend: backend, cfg: cfg, human: humanContact}
}

// Name returns the routing name of this node.
func (n *SchedulingNode) Name() models.NodeName { return models.NodeScheduling }

// Execute advances the scheduling steps.
func (n *SchedulingNode) Execute(ctx context.Context, state *models.ConversationState, userMessage string) (NodeOutcome, error) {
	slog.Debug("SchedulingNode executing", "phone", state.PhoneNumber, "step", state.CurrentStep)

	switch state.CurrentStep {
	case models.StepDatePreference, "":
		return n.collectDate(state, userMessage)
	case models.StepTimeSelection:
		return n.collectSlot(state, userMessage)
	case models.StepEmailCollection:
		return n.collectEmail(ctx, state, userMessage)
	default:
		return n.collectDate(state, userMessage)
	}
}

func (n *SchedulingNode) collectDate(state *models.ConversationState, userMessage string) (NodeOutcome, error) {
	lower := strings.ToLower(userMessage)
	if containsAny(lower, weekendKeywords) {
		// Fixed rejection, no state updates, step unchanged.
		return NodeOutcome{
			Response: saturdayUnavailableMessage,
			Target:   models.NodeScheduling,
			NextStep: models.StepDatePreference,
		}, nil
	}

	trimmed := strings.TrimSpace(userMessage)
	if trimmed == "" {
		recordFailure(state, "date_preferences", "empty date preference")
		return NodeOutcome{
			Response: "Qual dia da semana fica melhor para a visita? Atendemos de segunda a sexta.",
			Target:   models.NodeScheduling,
			NextStep: models.StepDatePreference,
		}, nil
	}
	state.Collected.DatePreferences = trimmed
	state.Metrics.ConsecutiveConfusion = 0
	return NodeOutcome{
		Response: "Perfeito! Temos horários às 10h, 14h e 16h. Qual prefere?",
		Target:   models.NodeScheduling,
		NextStep: models.StepTimeSelection,
	}, nil
}

func (n *SchedulingNode) collectSlot(state *models.ConversationState, userMessage string) (NodeOutcome, error) {
	trimmed := strings.TrimSpace(userMessage)
	if trimmed == "" {
		recordFailure(state, "selected_slot", "empty slot answer")
		return NodeOutcome{
			Response: "Qual horário prefere: 10h, 14h ou 16h?",
			Target:   models.NodeScheduling,
			NextStep: models.StepTimeSelection,
		}, nil
	}
	state.Collected.SelectedSlot = trimmed
	state.Metrics.ConsecutiveConfusion = 0
	return NodeOutcome{
		Response: "Ótimo! Para eu enviar a confirmação da visita, qual é o seu e-mail?",
		Target:   models.NodeScheduling,
		NextStep: models.StepEmailCollection,
	}, nil
}

func (n *SchedulingNode) collectEmail(ctx context.Context, state *models.ConversationState, userMessage string) (NodeOutcome, error) {
	email := strings.TrimSpace(userMessage)
	if !emailPattern.MatchString(email) {
		attempts := state.Validation.RecordAttempt("contact_email")
		state.Metrics.FailedAttempts++
		state.Validation.LastExtractionError = "invalid email format"
		if attempts >= n.cfg.MaxEmailAttempts {
			// Three strikes: hand off to a human instead of a fourth prompt.
			slog.Warn("SchedulingNode email attempts exhausted, forcing handoff", "phone", state.PhoneNumber, "attempts", attempts)
			return NodeOutcome{
				Response:      fmt.Sprintf("Sem problemas! Vou pedir para nossa equipe entrar em contato com você para finalizar o agendamento. Se preferir, fale direto com a unidade: %s.", n.human),
				Target:        models.NodeHandoff,
				SignalHandoff: true,
			}, nil
		}
		return NodeOutcome{
			Response: "Hmm, esse e-mail não parece válido. Pode conferir e me enviar de novo? (exemplo: nome@email.com)",
			Target:   models.NodeScheduling,
			NextStep: models.StepEmailCollection,
		}, nil
	}

	state.Collected.ContactEmail = email
	state.Metrics.ConsecutiveConfusion = 0

	event := n.createEvent(ctx, state)
	if event == nil {
		// Booking failed; the human contact is the fallback path.
		return NodeOutcome{
			Response: fmt.Sprintf("Anotei tudo! Nossa equipe vai confirmar o horário da visita pelo e-mail %s. Qualquer coisa, fale com a unidade: %s.", email, n.human),
			Target:   models.NodeConfirmation,
		}, nil
	}
	return NodeOutcome{
		Response: fmt.Sprintf("Agendado! 🎉 A visita está marcada (%s, %s). Você vai receber a confirmação no e-mail %s. Até lá!", state.Collected.DatePreferences, state.Collected.SelectedSlot, email),
		Target:   models.NodeConfirmation,
	}, nil
}

// createEvent books on the calendar backend, treating timeouts and errors as
// functional failures.
func (n *SchedulingNode) createEvent(ctx context.Context, state *models.ConversationState) *calendar.Event {
	if n.backend == nil {
		return nil
	}
	student := state.Collected.ChildName
	if student == "" {
		student = state.Collected.ParentName
	}
	start := time.Now().Add(48 * time.Hour)
	event, err := n.backend.CreateEvent(ctx, calendar.EventDetails{
		Summary:     fmt.Sprintf("Visita Kumon - %s", student),
		Description: fmt.Sprintf("Preferência: %s %s. Contato: %s", state.Collected.DatePreferences, state.Collected.SelectedSlot, state.PhoneNumber),
		Start:       start,
		End:         start.Add(time.Hour),
		Attendee:    state.Collected.ContactEmail,
	})
	if err != nil {
		slog.Error("SchedulingNode calendar booking failed", "error", err, "phone", state.PhoneNumber)
		state.Metrics.FailedAttempts++
		return nil
	}
	return event
}
