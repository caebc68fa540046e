package conversation

import (
	"context"
	"strings"
	"unicode"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
)

// NodeOutcome is what a stage node produces for one turn. Nodes mutate the
// working copy's collected data and metrics but never assign stage/step; they
// signal intended progress through Target and NextStep, which routing and the
// delivery service validate and commit.
type NodeOutcome struct {
	Response string
	// Target is the node's preferred routing target; empty lets the edge
	// function decide from state alone.
	Target models.NodeName
	// NextStep is the intra-stage step the node wants committed; it must
	// belong to the committed stage's step-set or delivery corrects it.
	NextStep models.Step
	// SignalHandoff requests the handoff edge regardless of stage logic.
	SignalHandoff bool
	// SignalComplete marks the conversation logically finished.
	SignalComplete bool
	// Confidence is the generator confidence for generated responses.
	Confidence      float64
	ConfidenceKnown bool
	// FallbackDepth counts how many fallback tiers this turn burned through.
	FallbackDepth int
}

// Node consumes the working state and the last user message, and produces a
// candidate response plus state updates.
type Node interface {
	Name() models.NodeName
	Execute(ctx context.Context, state *models.ConversationState, userMessage string) (NodeOutcome, error)
}

// AnswerGenerator is the black-box RAG/LLM collaborator consumed by the
// information node.
type AnswerGenerator interface {
	Query(ctx context.Context, question string) (answer string, confidence float64, err error)
}

// recordFailure increments the failure counters for a failed extraction and
// notes the problematic field.
func recordFailure(state *models.ConversationState, field, reason string) {
	state.Metrics.FailedAttempts++
	state.Validation.RecordAttempt(field)
	state.Validation.LastExtractionError = reason
	for _, f := range state.Metrics.ProblematicFields {
		if f == field {
			return
		}
	}
	state.Metrics.ProblematicFields = append(state.Metrics.ProblematicFields, field)
}

// extractName pulls a person name out of a free-text message. It strips the
// common Portuguese introductions and keeps at most two capitalized-ish
// tokens. Empty return means extraction failed.
func extractName(message string) string {
	msg := strings.TrimSpace(message)
	lower := strings.ToLower(msg)
	for _, prefix := range []string{"meu nome é", "meu nome e", "me chamo", "sou a", "sou o", "aqui é", "aqui e", "é a", "é o"} {
		if idx := strings.Index(lower, prefix); idx >= 0 {
			msg = strings.TrimSpace(msg[idx+len(prefix):])
			break
		}
	}
	fields := strings.Fields(msg)
	if len(fields) == 0 {
		return ""
	}
	var parts []string
	for _, f := range fields {
		cleaned := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r)
		})
		if cleaned == "" {
			continue
		}
		parts = append(parts, cleaned)
		if len(parts) == 2 {
			break
		}
	}
	if len(parts) == 0 {
		return ""
	}
	name := strings.Join(parts, " ")
	// Reject obvious non-names: pure greetings and question words.
	switch strings.ToLower(name) {
	case "oi", "ola", "olá", "bom dia", "boa tarde", "boa noite", "tudo bem":
		return ""
	}
	return name
}

// firstName returns the first token of a stored name for message templates.
func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return name
	}
	return fields[0]
}
