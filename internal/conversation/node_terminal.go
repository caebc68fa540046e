package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
)

// ConfirmationNode closes a booked conversation.
type ConfirmationNode struct{}

// NewConfirmationNode creates the confirmation node.
func NewConfirmationNode() *ConfirmationNode { return &ConfirmationNode{} }

// Name returns the routing name of this node.
func (n *ConfirmationNode) Name() models.NodeName { return models.NodeConfirmation }

// Execute thanks the user and ends the conversation.
func (n *ConfirmationNode) Execute(ctx context.Context, state *models.ConversationState, userMessage string) (NodeOutcome, error) {
	name := firstName(state.Collected.ParentName)
	response := "Tudo certo! Estamos te esperando para a visita. Até breve! 😊"
	if name != "" {
		response = fmt.Sprintf("Tudo certo, %s! Estamos te esperando para a visita. Até breve! 😊", name)
	}
	return NodeOutcome{
		Response:       response,
		Target:         models.NodeEnd,
		SignalComplete: true,
	}, nil
}

// HandoffNode transfers the conversation to a human. It is terminal and
// always routes to END.
type HandoffNode struct {
	human string
}

// NewHandoffNode creates the handoff node with the human contact phone.
func NewHandoffNode(humanContact string) *HandoffNode {
	return &HandoffNode{human: humanContact}
}

// Name returns the routing name of this node.
func (n *HandoffNode) Name() models.NodeName { return models.NodeHandoff }

// Execute sends the handoff message and ends the conversation.
func (n *HandoffNode) Execute(ctx context.Context, state *models.ConversationState, userMessage string) (NodeOutcome, error) {
	slog.Info("HandoffNode transferring conversation", "phone", state.PhoneNumber)
	return NodeOutcome{
		Response:       fmt.Sprintf("Vou te passar para nossa equipe, que vai te atender pessoalmente. 😊 Você também pode falar direto com a unidade: %s. Obrigada pelo contato!", n.human),
		Target:         models.NodeEnd,
		SignalComplete: true,
	}, nil
}

// EmergencyProgressionNode recovers a stuck conversation. It re-reads the
// decision trail most-recent-first for the latest circuit breaker action,
// maps it to a concrete target and canned response, and resets the failure
// counters for one fresh start.
type EmergencyProgressionNode struct {
	breaker *CircuitBreaker
	human   string
}

// NewEmergencyProgressionNode creates the emergency progression node.
func NewEmergencyProgressionNode(breaker *CircuitBreaker, humanContact string) *EmergencyProgressionNode {
	return &EmergencyProgressionNode{breaker: breaker, human: humanContact}
}

// Name returns the routing name of this node.
func (n *EmergencyProgressionNode) Name() models.NodeName { return models.NodeEmergencyProgression }

// Execute applies the recorded circuit breaker action.
func (n *EmergencyProgressionNode) Execute(ctx context.Context, state *models.ConversationState, userMessage string) (NodeOutcome, error) {
	action, found := state.Trail.LastCircuitBreakerAction()
	if !found {
		// No recorded action: the safest forward path is informational.
		action = string(ActionInformationBypass)
		slog.Warn("EmergencyProgressionNode found no recorded action, defaulting", "phone", state.PhoneNumber)
	}
	slog.Info("EmergencyProgressionNode applying action", "phone", state.PhoneNumber, "action", action)

	update := n.breaker.Apply(BreakerAction(action))
	if update.ResetCounters {
		state.Metrics.FailedAttempts = 0
		state.Metrics.ConsecutiveConfusion = 0
		state.Metrics.SameQuestionCount = 0
		// The message count never resets; moving the baseline restarts the
		// cap window so this activation is consumed.
		state.Metrics.MessagesAtLastRecovery = state.Metrics.MessageCount
	}

	switch BreakerAction(action) {
	case ActionEmergencyScheduling:
		return NodeOutcome{
			Response: "Vamos simplificar! Que tal já agendarmos sua visita à unidade? Qual dia da semana fica melhor para você?",
			Target:   update.Target,
		}, nil
	case ActionHandoff:
		return NodeOutcome{
			Response:      fmt.Sprintf("Percebi que posso não estar conseguindo te ajudar da melhor forma. Vou acionar nossa equipe para falar com você! Se preferir, ligue direto: %s.", n.human),
			Target:        update.Target,
			SignalHandoff: true,
		}, nil
	default:
		return NodeOutcome{
			Response: "Deixa eu te contar o essencial: o Kumon é um método individualizado que desenvolve autonomia nos estudos, com programas de matemática, português e inglês. Quer saber de algum deles em detalhe, ou prefere já agendar uma visita?",
			Target:   models.NodeInformation,
		}, nil
	}
}
