package conversation

import (
	"testing"
	"time"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/config"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
)

func testRouterConfig() config.ValidationRouting {
	return config.Default().Validation
}

func TestFirstMessageAlwaysValidated(t *testing.T) {
	router := NewValidationRouter(testRouterConfig())
	vctx := ValidationContext{
		State:          &models.ConversationState{},
		Candidate:      "Olá! Sou a Cecília do Kumon Vila A. Como posso ajudar?",
		IsFirstMessage: true,
	}

	verdict := router.Decide(vctx)
	if !verdict.ShouldValidate {
		t.Fatal("first message must always be validated")
	}
	if !verdict.RuleVerdict.ShouldValidate {
		t.Error("critical rule should force validation regardless of aggregate score")
	}
}

func TestLowConfidenceTriggersValidation(t *testing.T) {
	router := NewValidationRouter(testRouterConfig())
	state := &models.ConversationState{}

	vctx := ValidationContext{
		State:           state,
		Candidate:       "O Kumon desenvolve autonomia nos estudos desde cedo.",
		Confidence:      0.1,
		ConfidenceKnown: true,
	}
	if verdict := router.Decide(vctx); !verdict.ShouldValidate {
		t.Errorf("confidence 0.1 should trigger validation, score=%v", verdict.ScoreVerdict.Score)
	}

	vctx.Confidence = 0.9
	if verdict := router.Decide(vctx); verdict.ShouldValidate {
		t.Errorf("confidence 0.9 alone should not trigger validation, score=%v", verdict.ScoreVerdict.Score)
	}
}

func TestUnknownConfidenceDoesNotTriggerLowConfidence(t *testing.T) {
	engine := NewScoreEngine(testRouterConfig())
	vctx := ValidationContext{
		State:     &models.ConversationState{},
		Candidate: "O método é individualizado para cada aluno.",
	}
	verdict := engine.Evaluate(vctx)
	for _, reason := range verdict.Reasons {
		if reason == "low_confidence" {
			t.Error("zero-value confidence without ConfidenceKnown must not read as low confidence")
		}
	}
}

func TestSensitiveContentTriggersValidation(t *testing.T) {
	router := NewValidationRouter(testRouterConfig())
	vctx := ValidationContext{
		State:     &models.ConversationState{},
		Candidate: "Exception: prompt template failed to render",
	}
	if verdict := router.Decide(vctx); !verdict.ShouldValidate {
		t.Error("sensitive fragments should trigger validation")
	}
}

func TestComplexityRequiresLongConversation(t *testing.T) {
	engine := NewScoreEngine(testRouterConfig())

	short := ValidationContext{State: &models.ConversationState{
		Metrics: models.ConversationMetrics{MessageCount: 5},
	}}
	for _, reason := range engine.Evaluate(short).Reasons {
		if reason == "conversation_complexity" {
			t.Error("5 messages should be below the complexity floor")
		}
	}

	long := &models.ConversationState{Metrics: models.ConversationMetrics{MessageCount: 15}}
	now := time.Now()
	for i := 0; i < 3; i++ {
		long.Trail.RecordDecision(models.DecisionEntry{Kind: models.DecisionDeliveryCommit, Timestamp: now})
	}
	verdict := engine.Evaluate(ValidationContext{State: long})
	found := false
	for _, reason := range verdict.Reasons {
		if reason == "conversation_complexity" {
			found = true
		}
	}
	if !found {
		t.Error("long conversation with stage changes should trigger complexity")
	}
}

func TestRepeatedValidationFailuresTrigger(t *testing.T) {
	engine := NewScoreEngine(testRouterConfig())
	state := &models.ConversationState{}
	now := time.Now()
	for i := 0; i < 2; i++ {
		state.Validation.ValidationHistory = append(state.Validation.ValidationHistory,
			models.ValidationRecord{Timestamp: now, Passed: false})
	}

	verdict := engine.Evaluate(ValidationContext{State: state, Candidate: "Posso ajudar com mais alguma coisa?"})
	found := false
	for _, reason := range verdict.Reasons {
		if reason == "repeated_validation_failures" {
			found = true
		}
	}
	if !found {
		t.Error("2 prior failures should trigger the repeated-failures condition")
	}
}

func TestRecoveryContextCountsTrailActivations(t *testing.T) {
	state := &models.ConversationState{}
	now := time.Now()
	for i := 0; i < 2; i++ {
		RecordActivation(state, BreakerResult{
			ShouldActivate:    true,
			RecommendedAction: ActionInformationBypass,
			Trigger:           "failed_attempts",
		}, now)
	}
	if got := recoveryAttempts(state); got != 2 {
		t.Fatalf("recoveryAttempts = %d, want 2", got)
	}

	engine := NewScoreEngine(testRouterConfig())
	verdict := engine.Evaluate(ValidationContext{
		State:            state,
		Candidate:        "Podemos agendar uma visita para conhecer a unidade.",
		RecoveryAttempts: recoveryAttempts(state),
	})
	found := false
	for _, reason := range verdict.Reasons {
		if reason == "recovery_context" {
			found = true
		}
	}
	if !found {
		t.Error("trail activations should trigger the recovery condition")
	}
}

func TestQuietTurnSkipsValidation(t *testing.T) {
	router := NewValidationRouter(testRouterConfig())
	vctx := ValidationContext{
		State:           &models.ConversationState{Metrics: models.ConversationMetrics{MessageCount: 4}},
		Candidate:       "O horário de funcionamento é de segunda a sexta, das 8h às 18h.",
		Confidence:      0.95,
		ConfidenceKnown: true,
	}
	if verdict := router.Decide(vctx); verdict.ShouldValidate {
		t.Errorf("quiet mid-conversation turn should pass through, score=%v rule=%v",
			verdict.ScoreVerdict.Score, verdict.RuleVerdict.Score)
	}
}

type panickingRule struct{}

func (panickingRule) Name() string       { return "panicking" }
func (panickingRule) Priority() Priority { return PriorityLow }
func (panickingRule) Evaluate(ValidationContext, config.ValidationRouting) RuleResult {
	panic("rule blew up")
}

func TestRouterFailsClosed(t *testing.T) {
	router := NewValidationRouter(testRouterConfig())
	router.rules.AddRule(panickingRule{})

	verdict := router.Decide(ValidationContext{
		State:     &models.ConversationState{},
		Candidate: "Qualquer resposta serve aqui.",
	})
	if !verdict.ShouldValidate {
		t.Error("an engine failure must fail closed and validate")
	}
}
