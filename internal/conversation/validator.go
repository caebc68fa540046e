package conversation

import (
	"log/slog"
	"strings"
	"time"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
)

// ToleranceLevel adapts which non-critical checks are enforced when the
// conversation is already in a degraded context.
type ToleranceLevel string

const (
	ToleranceStrict    ToleranceLevel = "strict"
	ToleranceModerate  ToleranceLevel = "moderate"
	ToleranceLoose     ToleranceLevel = "loose"
	ToleranceVeryLoose ToleranceLevel = "very_loose"
)

// MinResponseLength is the minimum length of any delivered response.
const MinResponseLength = 10

// forbiddenDisclosures are phrases the assistant must never send: it cannot
// claim to be an AI, a bot or a system, nor disclaim its own limits. These
// checks are critical at every tolerance level.
var forbiddenDisclosures = []string{
	"sou uma ia", "sou um robô", "sou um robo", "sou um bot", "sou um chatbot",
	"sou um assistente virtual", "sou um sistema", "inteligência artificial",
	"inteligencia artificial", "modelo de linguagem", "não tenho acesso",
	"nao tenho acesso", "minhas limitações", "minhas limitacoes",
	"como uma ia", "i am an ai", "as an ai", "i'm a chatbot", "language model",
}

// ValidationOutcome is the verdict on one candidate response.
type ValidationOutcome struct {
	Approved   bool
	Critical   bool
	Tolerance  ToleranceLevel
	Violations []string
}

// RobustnessContext describes how degraded the current turn already is.
type RobustnessContext struct {
	FallbackDepth      int
	RecoveryAttempts   int
	ValidationAttempts int
}

// ToleranceFor derives the tolerance level from the robustness context: the
// deeper the conversation is into fallbacks, the fewer soft checks block it.
func ToleranceFor(rctx RobustnessContext) ToleranceLevel {
	degradation := rctx.FallbackDepth + rctx.RecoveryAttempts + rctx.ValidationAttempts
	switch {
	case degradation == 0:
		return ToleranceStrict
	case degradation <= 2:
		return ToleranceModerate
	case degradation <= 4:
		return ToleranceLoose
	default:
		return ToleranceVeryLoose
	}
}

// ResponseValidator enforces the delivery-blocking checks on candidate
// responses. Two checks are critical regardless of tolerance: minimum length
// and absence of forbidden self-disclosure phrases.
type ResponseValidator struct{}

// NewResponseValidator creates a validator.
func NewResponseValidator() *ResponseValidator {
	return &ResponseValidator{}
}

// Validate checks a candidate response under the given robustness context.
// A critical violation blocks delivery and forces regeneration.
func (v *ResponseValidator) Validate(candidate string, rctx RobustnessContext) ValidationOutcome {
	tolerance := ToleranceFor(rctx)
	outcome := ValidationOutcome{Approved: true, Tolerance: tolerance}

	trimmed := strings.TrimSpace(candidate)

	// Critical checks, enforced at every tolerance level.
	if len(trimmed) < MinResponseLength {
		outcome.Approved = false
		outcome.Critical = true
		outcome.Violations = append(outcome.Violations, "response_too_short")
	}
	if phrase := findForbiddenDisclosure(trimmed); phrase != "" {
		outcome.Approved = false
		outcome.Critical = true
		outcome.Violations = append(outcome.Violations, "forbidden_disclosure:"+phrase)
	}

	// Soft checks, relaxed as tolerance loosens.
	if tolerance == ToleranceStrict || tolerance == ToleranceModerate {
		if len(trimmed) > models.MaxResponseLength {
			outcome.Approved = false
			outcome.Violations = append(outcome.Violations, "response_too_long")
		}
		if strings.Contains(trimmed, "{{") || strings.Contains(trimmed, "}}") {
			outcome.Approved = false
			outcome.Violations = append(outcome.Violations, "unresolved_placeholder")
		}
	}
	if tolerance == ToleranceStrict {
		if containsSensitivePhrase(trimmed) {
			outcome.Approved = false
			outcome.Violations = append(outcome.Violations, "sensitive_content")
		}
	}

	if !outcome.Approved {
		slog.Warn("ResponseValidator rejected candidate",
			"critical", outcome.Critical, "tolerance", tolerance,
			"violations", strings.Join(outcome.Violations, ","))
	}
	return outcome
}

// Record appends the outcome to the state's validation history and, when
// rejected, to the bounded failure ring.
func (v *ResponseValidator) Record(state *models.ConversationState, outcome ValidationOutcome, now time.Time) {
	reason := strings.Join(outcome.Violations, ",")
	state.Validation.ValidationHistory = append(state.Validation.ValidationHistory, models.ValidationRecord{
		Timestamp: now,
		Passed:    outcome.Approved,
		Critical:  outcome.Critical,
		Reason:    reason,
	})
	if !outcome.Approved {
		state.Trail.RecordValidationFailure(models.ValidationFailure{
			Stage:     state.CurrentStage,
			Reason:    reason,
			Critical:  outcome.Critical,
			Timestamp: now,
		})
	}
}

func findForbiddenDisclosure(candidate string) string {
	lower := strings.ToLower(candidate)
	for _, phrase := range forbiddenDisclosures {
		if strings.Contains(lower, phrase) {
			return phrase
		}
	}
	return ""
}
