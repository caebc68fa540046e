package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
)

// Keyword sets used to disambiguate who the program is for. On ambiguity the
// node re-prompts without advancing the step.
var selfKeywords = []string{
	"para mim", "pra mim", "é para mim", "e para mim", "eu mesmo", "eu mesma",
	"sou eu", "para eu", "adulto",
}

var childKeywords = []string{
	"meu filho", "minha filha", "meus filhos", "para ele", "para ela",
	"pro meu", "pra minha", "criança", "crianca", "filho", "filha",
}

// GreetingNode runs the welcome and name-collection steps.
type GreetingNode struct{}

// NewGreetingNode creates the greeting node.
func NewGreetingNode() *GreetingNode { return &GreetingNode{} }

// Name returns the routing name of this node.
func (n *GreetingNode) Name() models.NodeName { return models.NodeGreeting }

// Execute advances the greeting steps: welcome, parent name, target
// disambiguation, child name.
func (n *GreetingNode) Execute(ctx context.Context, state *models.ConversationState, userMessage string) (NodeOutcome, error) {
	slog.Debug("GreetingNode executing", "phone", state.PhoneNumber, "step", state.CurrentStep)

	switch state.CurrentStep {
	case models.StepWelcome, "":
		return n.welcome(state, userMessage)
	case models.StepParentNameCollection:
		return n.collectParentName(state, userMessage)
	case models.StepTargetClarification:
		return n.clarifyTarget(state, userMessage)
	case models.StepChildNameCollection:
		return n.collectChildName(state, userMessage)
	default:
		return n.welcome(state, userMessage)
	}
}

func (n *GreetingNode) welcome(state *models.ConversationState, userMessage string) (NodeOutcome, error) {
	// A first message that already carries a name skips the extra turn.
	if name := extractName(userMessage); name != "" && len(userMessage) > 8 {
		state.Collected.ParentName = name
		return NodeOutcome{
			Response: fmt.Sprintf("Olá, %s! Eu sou a Cecília, do Kumon Vila A. 😊 O Kumon seria para você ou para seu filho(a)?", firstName(name)),
			Target:   models.NodeGreeting,
			NextStep: models.StepTargetClarification,
		}, nil
	}
	return NodeOutcome{
		Response: "Olá! Eu sou a Cecília, do Kumon Vila A. 😊 Que bom ter você por aqui! Para começarmos, qual é o seu nome?",
		Target:   models.NodeGreeting,
		NextStep: models.StepParentNameCollection,
	}, nil
}

func (n *GreetingNode) collectParentName(state *models.ConversationState, userMessage string) (NodeOutcome, error) {
	name := extractName(userMessage)
	if name == "" {
		recordFailure(state, "parent_name", "could not extract a name")
		return NodeOutcome{
			Response: "Desculpe, não consegui anotar seu nome. Pode me dizer como você se chama?",
			Target:   models.NodeGreeting,
			NextStep: models.StepParentNameCollection,
		}, nil
	}
	state.Collected.ParentName = name
	state.Metrics.ConsecutiveConfusion = 0
	return NodeOutcome{
		Response: fmt.Sprintf("Prazer, %s! O Kumon seria para você ou para seu filho(a)?", firstName(name)),
		Target:   models.NodeGreeting,
		NextStep: models.StepTargetClarification,
	}, nil
}

func (n *GreetingNode) clarifyTarget(state *models.ConversationState, userMessage string) (NodeOutcome, error) {
	msg := strings.ToLower(strings.TrimSpace(userMessage))
	isSelf := containsAny(msg, selfKeywords)
	isChild := containsAny(msg, childKeywords)

	switch {
	case isSelf && !isChild:
		state.Collected.SelfInquiry = true
		return NodeOutcome{
			Response: "Que ótimo! O Kumon também é excelente para adultos. Qual é a sua idade?",
			Target:   models.NodeQualification,
		}, nil
	case isChild && !isSelf:
		state.Collected.SelfInquiry = false
		return NodeOutcome{
			Response: "Perfeito! Qual é o nome do seu filho(a)?",
			Target:   models.NodeGreeting,
			NextStep: models.StepChildNameCollection,
		}, nil
	default:
		// Ambiguous either way: re-prompt without advancing.
		recordFailure(state, "inquiry_target", "ambiguous self/child answer")
		return NodeOutcome{
			Response: "Só para eu entender direitinho: o Kumon seria para você mesmo(a) ou para seu filho(a)?",
			Target:   models.NodeGreeting,
			NextStep: models.StepTargetClarification,
		}, nil
	}
}

func (n *GreetingNode) collectChildName(state *models.ConversationState, userMessage string) (NodeOutcome, error) {
	name := extractName(userMessage)
	if name == "" {
		recordFailure(state, "child_name", "could not extract a name")
		return NodeOutcome{
			Response: "Não consegui anotar o nome. Pode repetir o nome do seu filho(a), por favor?",
			Target:   models.NodeGreeting,
			NextStep: models.StepChildNameCollection,
		}, nil
	}
	state.Collected.ChildName = name
	state.Metrics.ConsecutiveConfusion = 0
	return NodeOutcome{
		Response: fmt.Sprintf("%s, que nome lindo! E qual é a idade de %s?", firstName(name), firstName(name)),
		Target:   models.NodeQualification,
	}, nil
}
