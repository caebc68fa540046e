package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/config"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/messaging"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/store"
)

// mockTransport is a messaging.Service that records sends and can be told to
// fail them.
type mockTransport struct {
	sendErr error
	sent    []string
}

func (m *mockTransport) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	return recipient, nil
}

func (m *mockTransport) SendMessage(ctx context.Context, to, body string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, body)
	return nil
}

func (m *mockTransport) Start(ctx context.Context) error   { return nil }
func (m *mockTransport) Stop() error                       { return nil }
func (m *mockTransport) Receipts() <-chan models.Receipt   { return nil }
func (m *mockTransport) Responses() <-chan models.Response { return nil }

func testPipeline(st store.Store, transport messaging.Service) *Pipeline {
	cfg := config.Default()
	breaker := NewCircuitBreaker(cfg.CircuitBreaker)
	nodes := BuildNodes(breaker, nil, nil, cfg.Scheduling, cfg.HumanContact)
	return NewPipeline(
		NewStateManager(st),
		breaker,
		NewRouter(breaker),
		NewValidationRouter(cfg.Validation),
		messaging.NewDeliveryService(transport, st),
		nodes,
	)
}

func seedConversation(t *testing.T, st store.Store, state models.ConversationState) {
	t.Helper()
	if state.Trail.LastDecisions.Cap == 0 {
		state.Trail.LastDecisions = models.NewDecisionRing(models.MaxTrailDecisions)
	}
	if err := st.SaveConversation(state); err != nil {
		t.Fatalf("failed to seed conversation: %v", err)
	}
}

func TestFreshGreetingTurn(t *testing.T) {
	st := store.NewInMemoryStore()
	transport := &mockTransport{}
	p := testPipeline(st, transport)

	result, err := p.ProcessMessage(context.Background(), "5545999990000", "Oi", "")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if !result.Delivered || !result.Committed {
		t.Fatalf("greeting turn should deliver and commit: %+v", result)
	}
	if result.Stage != models.StageGreeting {
		t.Errorf("fresh conversation stays in greeting, got %s", result.Stage)
	}
	if !strings.Contains(result.Response, "Cecília") {
		t.Errorf("welcome should introduce Cecília, got %q", result.Response)
	}

	persisted, err := st.GetConversation(result.ThreadID)
	if err != nil || persisted == nil {
		t.Fatalf("conversation not persisted: %v", err)
	}
	if persisted.Metrics.MessageCount != 1 {
		t.Errorf("message count should be 1, got %d", persisted.Metrics.MessageCount)
	}
	if len(transport.sent) != 1 {
		t.Errorf("exactly one message should be sent, got %d", len(transport.sent))
	}
}

func TestMessageCapTriggersEmergencyProgression(t *testing.T) {
	st := store.NewInMemoryStore()
	transport := &mockTransport{}
	p := testPipeline(st, transport)

	seedConversation(t, st, models.ConversationState{
		PhoneNumber:  "5545999990001",
		ThreadID:     "t-cap",
		CurrentStage: models.StageQualification,
		CurrentStep:  models.StepChildAgeInquiry,
		Collected:    models.CollectedData{StudentAge: 7},
		Metrics: models.ConversationMetrics{
			MessageCount:         20,
			FailedAttempts:       2,
			ConsecutiveConfusion: 1,
			SameQuestionCount:    1,
		},
	})

	result, err := p.ProcessMessage(context.Background(), "5545999990001", "e agora?", "t-cap")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if !result.Delivered {
		t.Fatalf("emergency turn should still deliver: %+v", result)
	}
	if result.Stage != models.StageScheduling {
		t.Errorf("emergency scheduling should land in scheduling, got %s", result.Stage)
	}

	persisted, err := st.GetConversation("t-cap")
	if err != nil || persisted == nil {
		t.Fatalf("conversation not persisted: %v", err)
	}
	if persisted.Metrics.FailedAttempts != 0 || persisted.Metrics.ConsecutiveConfusion != 0 ||
		persisted.Metrics.SameQuestionCount != 0 {
		t.Errorf("emergency progression should reset the three counters, got %+v", persisted.Metrics)
	}
	if persisted.Metrics.MessageCount != 21 {
		t.Errorf("message count is never reset, got %d", persisted.Metrics.MessageCount)
	}
	if _, ok := persisted.Trail.LastCircuitBreakerAction(); !ok {
		t.Error("activation should be recorded in the trail")
	}
	if persisted.Metrics.MessagesAtLastRecovery != 21 {
		t.Errorf("recovery should move the cap baseline to 21, got %d", persisted.Metrics.MessagesAtLastRecovery)
	}
}

func TestTurnsAfterEmergencyProgressionMakeProgress(t *testing.T) {
	st := store.NewInMemoryStore()
	transport := &mockTransport{}
	p := testPipeline(st, transport)

	seedConversation(t, st, models.ConversationState{
		PhoneNumber:  "5545999990006",
		ThreadID:     "t-recovered",
		CurrentStage: models.StageQualification,
		CurrentStep:  models.StepChildAgeInquiry,
		Collected:    models.CollectedData{StudentAge: 7},
		Metrics:      models.ConversationMetrics{MessageCount: 20},
	})

	// This turn crosses the cap and lands in emergency scheduling.
	result, err := p.ProcessMessage(context.Background(), "5545999990006", "e agora?", "t-recovered")
	if err != nil {
		t.Fatalf("emergency turn failed: %v", err)
	}
	if result.Stage != models.StageScheduling || result.Step != models.StepDatePreference {
		t.Fatalf("expected scheduling/date_preference, got %s/%s", result.Stage, result.Step)
	}

	// The next answer must reach the scheduling node, not a second activation.
	result, err = p.ProcessMessage(context.Background(), "5545999990006", "pode ser na quarta-feira", "t-recovered")
	if err != nil {
		t.Fatalf("post-recovery turn failed: %v", err)
	}
	if !strings.Contains(result.Response, "Temos horários") {
		t.Fatalf("date answer should be consumed by scheduling, got %q", result.Response)
	}
	if result.Step != models.StepTimeSelection {
		t.Errorf("date preference should advance to time selection, got %s", result.Step)
	}

	persisted, err := st.GetConversation("t-recovered")
	if err != nil || persisted == nil {
		t.Fatalf("conversation not persisted: %v", err)
	}
	if persisted.Collected.DatePreferences != "pode ser na quarta-feira" {
		t.Errorf("date preference not collected, got %q", persisted.Collected.DatePreferences)
	}
	activations := 0
	for _, e := range persisted.Trail.LastDecisions.Entries {
		if e.Kind == models.DecisionCircuitBreakerAction {
			activations++
		}
	}
	if activations != 1 {
		t.Errorf("the breaker must activate exactly once, got %d activations", activations)
	}
}

func TestValidationToleranceLoosensAfterRecoveries(t *testing.T) {
	st := store.NewInMemoryStore()
	p := testPipeline(st, &mockTransport{})
	candidate := "Podemos agendar sua visita, {{parent_name}}? Temos horários livres durante toda a semana."
	now := time.Now()

	pristine := &models.ConversationState{PhoneNumber: "5545999990007"}
	if got := p.validateCandidate(pristine, NodeOutcome{Response: candidate}, now); got == candidate {
		t.Fatal("an unresolved placeholder should be rejected with no prior recoveries")
	}

	battered := &models.ConversationState{PhoneNumber: "5545999990007"}
	for i := 0; i < 5; i++ {
		RecordActivation(battered, BreakerResult{
			ShouldActivate:    true,
			RecommendedAction: ActionInformationBypass,
			Trigger:           "failed_attempts",
		}, now)
	}
	if got := p.validateCandidate(battered, NodeOutcome{Response: candidate}, now); got != candidate {
		t.Fatal("repeated recoveries should loosen tolerance past the placeholder check")
	}
}

func TestThirdInvalidEmailEndsInHandoff(t *testing.T) {
	st := store.NewInMemoryStore()
	transport := &mockTransport{}
	p := testPipeline(st, transport)

	seedConversation(t, st, models.ConversationState{
		PhoneNumber:  "5545999990002",
		ThreadID:     "t-email",
		CurrentStage: models.StageScheduling,
		CurrentStep:  models.StepEmailCollection,
		Collected:    models.CollectedData{ParentName: "Maria", DatePreferences: "quarta", SelectedSlot: "14h"},
	})

	var result ProcessResult
	var err error
	for i, msg := range []string{"naoehemail", "aindanao", "maria arroba gmail"} {
		result, err = p.ProcessMessage(context.Background(), "5545999990002", msg, "t-email")
		if err != nil {
			t.Fatalf("ProcessMessage %d failed: %v", i+1, err)
		}
	}

	if result.Stage != models.StageCompleted || result.Step != models.StepConversationEndedHandoff {
		t.Fatalf("third bad email should end in completed/handoff, got %s/%s", result.Stage, result.Step)
	}

	persisted, err := st.GetConversation("t-email")
	if err != nil || persisted == nil {
		t.Fatalf("conversation not persisted: %v", err)
	}
	if !persisted.IsTerminal() {
		t.Error("conversation should be terminal after handoff")
	}
	if persisted.Validation.AttemptsFor("contact_email") != 3 {
		t.Errorf("expected 3 email attempts, got %d", persisted.Validation.AttemptsFor("contact_email"))
	}
}

func TestSendFailureLeavesStateUntouched(t *testing.T) {
	st := store.NewInMemoryStore()
	transport := &mockTransport{sendErr: errors.New("gateway down")}
	p := testPipeline(st, transport)

	seed := models.ConversationState{
		PhoneNumber:  "5545999990003",
		ThreadID:     "t-fail",
		CurrentStage: models.StageInformation,
		CurrentStep:  models.StepProgramDetails,
		Metrics:      models.ConversationMetrics{MessageCount: 4},
		CreatedAt:    time.Now(),
	}
	seedConversation(t, st, seed)

	result, err := p.ProcessMessage(context.Background(), "5545999990003", "qual o horário de funcionamento?", "t-fail")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if result.Delivered || result.Committed {
		t.Fatalf("double send failure must not report delivery: %+v", result)
	}
	if !result.UsedFallback {
		t.Error("the retry uses the generic fallback text")
	}
	if result.Stage != models.StageInformation || result.Step != models.StepProgramDetails {
		t.Errorf("failed turn must report the prior stage, got %s/%s", result.Stage, result.Step)
	}
	if !strings.Contains(result.Response, "Estou aqui para te ajudar") {
		t.Errorf("response should be the generic fallback, got %q", result.Response)
	}

	persisted, err := st.GetConversation("t-fail")
	if err != nil || persisted == nil {
		t.Fatalf("conversation lookup failed: %v", err)
	}
	if persisted.Metrics.MessageCount != 4 {
		t.Errorf("message count must be unchanged, got %d", persisted.Metrics.MessageCount)
	}
	if len(persisted.Messages) != 0 {
		t.Errorf("no message should be persisted on a failed turn, got %d", len(persisted.Messages))
	}
	if persisted.CurrentStage != models.StageInformation || persisted.CurrentStep != models.StepProgramDetails {
		t.Errorf("persisted stage/step must be untouched, got %s/%s", persisted.CurrentStage, persisted.CurrentStep)
	}
}

func TestTerminalConversationStartsFresh(t *testing.T) {
	st := store.NewInMemoryStore()
	transport := &mockTransport{}
	p := testPipeline(st, transport)

	seedConversation(t, st, models.ConversationState{
		PhoneNumber:  "5545999990004",
		ThreadID:     "t-done",
		CurrentStage: models.StageCompleted,
		CurrentStep:  models.StepConversationComplete,
		Metrics:      models.ConversationMetrics{MessageCount: 12},
	})

	result, err := p.ProcessMessage(context.Background(), "5545999990004", "Oi de novo", "")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if result.ThreadID == "t-done" {
		t.Error("a terminal conversation should not be resumed")
	}
	if result.Stage != models.StageGreeting {
		t.Errorf("new conversation should start in greeting, got %s", result.Stage)
	}
}

func TestGetStateUnknownThread(t *testing.T) {
	st := store.NewInMemoryStore()
	p := testPipeline(st, &mockTransport{})

	if _, err := p.GetState(context.Background(), "nope"); !errors.Is(err, models.ErrConversationNotFound) {
		t.Errorf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestDeliveryRecordWrittenPerTurn(t *testing.T) {
	st := store.NewInMemoryStore()
	transport := &mockTransport{}
	p := testPipeline(st, transport)

	result, err := p.ProcessMessage(context.Background(), "5545999990005", "Oi", "")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	records, err := st.GetDeliveryRecords(result.ThreadID)
	if err != nil {
		t.Fatalf("GetDeliveryRecords failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 delivery record, got %d", len(records))
	}
	if records[0].DeliveryID != result.DeliveryID {
		t.Errorf("delivery id mismatch: %s vs %s", records[0].DeliveryID, result.DeliveryID)
	}
}
