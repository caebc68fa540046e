package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/calendar"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/config"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/messaging"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
)

// safeErrorResponse is sent when a node fails or a candidate response is
// rejected by validation. It carries no template machinery and passes every
// critical check.
const safeErrorResponse = "Desculpe, tive uma dificuldade técnica agora. Pode repetir sua mensagem, por favor? Se preferir, posso agendar uma visita à unidade para te atenderem pessoalmente."

// ProcessResult is the outcome of one inbound message turn.
type ProcessResult struct {
	ThreadID       string
	ConversationID string
	Response       string
	Stage          models.Stage
	Step           models.Step
	Delivered      bool
	Committed      bool
	UsedFallback   bool
	DeliveryID     string
	Reason         string
}

// Pipeline orchestrates one turn: load state, execute the stage's node,
// route, validate and deliver. Turns for the same phone number run strictly
// one at a time; different numbers proceed concurrently.
type Pipeline struct {
	states    *StateManager
	breaker   *CircuitBreaker
	router    *Router
	validator *ResponseValidator
	valRouter *ValidationRouter
	delivery  *messaging.DeliveryService
	nodes     map[models.NodeName]Node

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPipeline assembles the full conversation pipeline.
func NewPipeline(states *StateManager, breaker *CircuitBreaker, router *Router,
	valRouter *ValidationRouter, delivery *messaging.DeliveryService,
	nodes map[models.NodeName]Node) *Pipeline {
	return &Pipeline{
		states:    states,
		breaker:   breaker,
		router:    router,
		validator: NewResponseValidator(),
		valRouter: valRouter,
		delivery:  delivery,
		nodes:     nodes,
		locks:     make(map[string]*sync.Mutex),
	}
}

// BuildNodes constructs the standard node set from its dependencies.
func BuildNodes(breaker *CircuitBreaker, generator AnswerGenerator,
	backend calendar.Backend, cfg config.Scheduling, humanContact string) map[models.NodeName]Node {
	nodes := []Node{
		NewGreetingNode(),
		NewQualificationNode(),
		NewInformationNode(generator),
		NewSchedulingNode(backend, cfg, humanContact),
		NewConfirmationNode(),
		NewHandoffNode(humanContact),
		NewEmergencyProgressionNode(breaker, humanContact),
	}
	byName := make(map[models.NodeName]Node, len(nodes))
	for _, n := range nodes {
		byName[n.Name()] = n
	}
	return byName
}

// lockFor returns the serialization mutex for a phone number.
func (p *Pipeline) lockFor(phone string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.locks[phone]; ok {
		return l
	}
	l := &sync.Mutex{}
	p.locks[phone] = l
	return l
}

// ProcessMessage handles one inbound message end to end. It never returns an
// error for a contact's bad turn; delivery failures surface in the result
// with the prior stage untouched.
func (p *Pipeline) ProcessMessage(ctx context.Context, phoneNumber, userMessage, threadID string) (ProcessResult, error) {
	lock := p.lockFor(phoneNumber)
	lock.Lock()
	defer lock.Unlock()

	persisted, err := p.states.LoadOrCreate(ctx, phoneNumber, threadID)
	if err != nil {
		return ProcessResult{}, err
	}

	// Every mutation below happens on a working copy. Nothing reaches the
	// store until the delivery service commits.
	working := persisted.Clone()
	now := time.Now()
	p.observeMessage(working, userMessage, now)

	node, activated := p.selectNode(working, now)
	outcome := p.execute(ctx, node, working, userMessage)

	response := p.validateCandidate(working, outcome, now)

	// When the breaker pre-empted this turn the emergency node already reset
	// the counters and chose the recovery target; normal routing would re-check
	// the breaker and loop back into recovery.
	var routing models.RoutingDecision
	if activated {
		routing = p.router.RouteRecovery(working, outcome)
	} else {
		routing = p.router.Route(working, outcome, userMessage)
	}

	delivered := p.delivery.Deliver(ctx, working, routing, response, outcome.NextStep)

	if delivered.Body != "" {
		response = delivered.Body
	}
	result := ProcessResult{
		ThreadID:       working.ThreadID,
		ConversationID: working.ConversationID,
		Response:       response,
		Stage:          delivered.Stage,
		Step:           delivered.Step,
		Delivered:      delivered.Delivered,
		Committed:      delivered.Committed,
		UsedFallback:   delivered.UsedFallback,
		DeliveryID:     delivered.DeliveryID,
		Reason:         delivered.Reason,
	}
	if !delivered.Delivered {
		// Commit-after-send: the working copy is discarded and the persisted
		// state keeps its prior stage, step, metrics and transcript.
		slog.Warn("Pipeline turn failed, state unchanged", "phone", phoneNumber,
			"thread", persisted.ThreadID, "reason", delivered.Reason)
		result.Stage = persisted.CurrentStage
		result.Step = persisted.CurrentStep
	}
	return result, nil
}

// observeMessage appends the user message and updates the turn-entry metrics
// the circuit breaker watches.
func (p *Pipeline) observeMessage(state *models.ConversationState, userMessage string, now time.Time) {
	previous := lastUserMessage(state)
	state.AppendMessage(models.RoleUser, userMessage, now)
	state.Metrics.MessageCount++

	if DetectHumanRequest(userMessage) {
		state.Metrics.HumanRequests++
	}
	if DetectConfusion(userMessage) {
		state.Metrics.ConsecutiveConfusion++
	}
	if previous != "" && normalizeMessage(previous) == normalizeMessage(userMessage) {
		state.Metrics.SameQuestionCount++
	} else {
		state.Metrics.SameQuestionCount = 0
	}
}

// selectNode picks the node for this turn. An active circuit breaker
// pre-empts the stage's own node with emergency progression.
func (p *Pipeline) selectNode(state *models.ConversationState, now time.Time) (Node, bool) {
	if result := p.breaker.Check(state); result.ShouldActivate {
		RecordActivation(state, result, now)
		slog.Info("Pipeline circuit breaker pre-empted turn", "phone", state.PhoneNumber,
			"trigger", result.Trigger, "action", result.RecommendedAction)
		return p.nodes[models.NodeEmergencyProgression], true
	}
	return NodeFor(state.CurrentStage, p.nodes), false
}

// execute runs the node, converting any error or panic into the safe
// stay-in-place outcome.
func (p *Pipeline) execute(ctx context.Context, node Node, state *models.ConversationState, userMessage string) (outcome NodeOutcome) {
	fail := func() NodeOutcome {
		state.Metrics.FailedAttempts++
		return NodeOutcome{
			Response: safeErrorResponse,
			Target:   defaultTargetFor(state.CurrentStage),
		}
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Pipeline node panicked", "panic", r, "phone", state.PhoneNumber)
			outcome = fail()
		}
	}()

	if node == nil {
		slog.Error("Pipeline has no node for stage", "stage", state.CurrentStage, "phone", state.PhoneNumber)
		return fail()
	}
	out, err := node.Execute(ctx, state, userMessage)
	if err != nil {
		slog.Error("Pipeline node failed", "node", node.Name(), "error", err, "phone", state.PhoneNumber)
		return fail()
	}
	return out
}

// validateCandidate runs the hybrid validation routing and, when an extra
// pass is warranted, the response validator. Rejected candidates are replaced
// with the safe response; critical violations are never delivered.
func (p *Pipeline) validateCandidate(state *models.ConversationState, outcome NodeOutcome, now time.Time) string {
	recoveries := recoveryAttempts(state)
	vctx := ValidationContext{
		State:            state,
		Candidate:        outcome.Response,
		Confidence:       outcome.Confidence,
		ConfidenceKnown:  outcome.ConfidenceKnown,
		IsFirstMessage:   state.Metrics.MessageCount == 1,
		RecoveryAttempts: recoveries,
		FallbackDepth:    outcome.FallbackDepth,
	}
	verdict := p.valRouter.Decide(vctx)
	state.Trail.RecordDecision(models.DecisionEntry{
		Kind:      models.DecisionValidation,
		Detail:    validationDetail(verdict),
		Timestamp: now,
	})
	if !verdict.ShouldValidate {
		return outcome.Response
	}

	rctx := RobustnessContext{
		FallbackDepth:      outcome.FallbackDepth,
		RecoveryAttempts:   recoveries,
		ValidationAttempts: recentValidationFailures(state),
	}
	vout := p.validator.Validate(outcome.Response, rctx)
	p.validator.Record(state, vout, now)
	if vout.Approved {
		return outcome.Response
	}
	slog.Warn("Pipeline replaced rejected candidate", "phone", state.PhoneNumber,
		"critical", vout.Critical, "violations", vout.Violations)
	return safeErrorResponse
}

func validationDetail(verdict HybridVerdict) string {
	if verdict.ShouldValidate {
		return "validate"
	}
	return "pass_through"
}

// lastUserMessage returns the most recent user entry in the transcript.
func lastUserMessage(state *models.ConversationState) string {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if state.Messages[i].Role == models.RoleUser {
			return state.Messages[i].Content
		}
	}
	return ""
}

// GetState returns the persisted conversation for a thread. Reading never
// mutates state; repeated calls return identical results.
func (p *Pipeline) GetState(ctx context.Context, threadID string) (*models.ConversationState, error) {
	return p.states.Get(ctx, threadID)
}

// Reset administratively deletes a conversation.
func (p *Pipeline) Reset(ctx context.Context, threadID string) error {
	return p.states.Reset(ctx, threadID)
}
