package conversation

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/config"
	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
)

// Priority weights a validation condition's contribution to the aggregate
// score. Critical conditions additionally force validation on the rule engine
// regardless of the aggregate.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Weight returns the multiplier applied to a condition's score.
func (p Priority) Weight() float64 {
	switch p {
	case PriorityCritical:
		return 1.0
	case PriorityHigh:
		return 0.85
	case PriorityMedium:
		return 0.7
	case PriorityLow:
		return 0.5
	default:
		return 0.5
	}
}

// rank orders priorities for descending sort.
func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// ValidationContext carries everything the routing engines may inspect when
// deciding whether a candidate response needs an extra validation pass.
type ValidationContext struct {
	State            *models.ConversationState
	Candidate        string
	Confidence       float64
	ConfidenceKnown  bool
	IsFirstMessage   bool
	RecoveryAttempts int
	FallbackDepth    int
}

// RoutingVerdict is a single engine's decision.
type RoutingVerdict struct {
	ShouldValidate bool
	Score          float64
	Confidence     float64
	Reasons        []string
}

// HybridVerdict combines both engines' decisions.
type HybridVerdict struct {
	ShouldValidate bool
	Confidence     float64
	ScoreVerdict   RoutingVerdict
	RuleVerdict    RoutingVerdict
}

// sensitivePhrases are fragments that must never reach a customer unreviewed.
var sensitivePhrases = []string{
	"api key", "openai", "prompt", "system:", "traceback", "exception",
	"stack trace", "internal error", "debug", "{", "}",
}

func containsSensitivePhrase(candidate string) bool {
	lower := strings.ToLower(candidate)
	for _, phrase := range sensitivePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// stageChanges counts committed stage transitions recorded in the trail.
func stageChanges(state *models.ConversationState) int {
	n := 0
	for _, e := range state.Trail.LastDecisions.Entries {
		if e.Kind == models.DecisionDeliveryCommit {
			n++
		}
	}
	return n
}

// recoveryAttempts counts circuit breaker activations still visible in the
// decision trail.
func recoveryAttempts(state *models.ConversationState) int {
	n := 0
	for _, e := range state.Trail.LastDecisions.Entries {
		if e.Kind == models.DecisionCircuitBreakerAction {
			n++
		}
	}
	return n
}

// recentValidationFailures counts failed entries in the validation history.
func recentValidationFailures(state *models.ConversationState) int {
	n := 0
	for _, rec := range state.Validation.ValidationHistory {
		if !rec.Passed {
			n++
		}
	}
	return n
}

// scoreCondition is one row of the score engine's fixed condition table.
type scoreCondition struct {
	name     string
	priority Priority
	score    func(vctx ValidationContext, cfg config.ValidationRouting) (float64, bool)
}

// scoreConditions is the fixed condition table. Scores are 0-100 before the
// priority weight is applied.
var scoreConditions = []scoreCondition{
	{
		// The first response asserts the assistant's identity and is always
		// validated.
		name:     "first_message",
		priority: PriorityCritical,
		score: func(vctx ValidationContext, _ config.ValidationRouting) (float64, bool) {
			return 100, vctx.IsFirstMessage
		},
	},
	{
		name:     "low_confidence",
		priority: PriorityHigh,
		score: func(vctx ValidationContext, cfg config.ValidationRouting) (float64, bool) {
			if !vctx.ConfidenceKnown || vctx.Confidence >= cfg.ConfidenceThreshold {
				return 0, false
			}
			// Scales linearly from 0 at the threshold up to the cap at zero
			// confidence.
			score := (1 - vctx.Confidence/cfg.ConfidenceThreshold) * 80
			if score > 80 {
				score = 80
			}
			return score, true
		},
	},
	{
		name:     "sensitive_content",
		priority: PriorityHigh,
		score: func(vctx ValidationContext, _ config.ValidationRouting) (float64, bool) {
			return 90, containsSensitivePhrase(vctx.Candidate)
		},
	},
	{
		name:     "recovery_context",
		priority: PriorityMedium,
		score: func(vctx ValidationContext, _ config.ValidationRouting) (float64, bool) {
			if vctx.RecoveryAttempts == 0 && vctx.FallbackDepth == 0 {
				return 0, false
			}
			score := float64(vctx.RecoveryAttempts*20 + vctx.FallbackDepth*15)
			if score > 70 {
				score = 70
			}
			return score, true
		},
	},
	{
		name:     "conversation_complexity",
		priority: PriorityMedium,
		score: func(vctx ValidationContext, _ config.ValidationRouting) (float64, bool) {
			if vctx.State == nil {
				return 0, false
			}
			score := float64(vctx.State.Metrics.MessageCount*2 + stageChanges(vctx.State)*10)
			if score < 20 {
				return 0, false
			}
			if score > 60 {
				score = 60
			}
			return score, true
		},
	},
	{
		name:     "repeated_validation_failures",
		priority: PriorityMedium,
		score: func(vctx ValidationContext, _ config.ValidationRouting) (float64, bool) {
			if vctx.State == nil {
				return 0, false
			}
			return 50, recentValidationFailures(vctx.State) >= 2
		},
	},
}

// ScoreEngine decides validation routing from the weighted condition table.
// The aggregate threshold is the tunable knob; individual conditions are not.
type ScoreEngine struct {
	cfg config.ValidationRouting
}

// NewScoreEngine creates a score engine with the given thresholds.
func NewScoreEngine(cfg config.ValidationRouting) *ScoreEngine {
	return &ScoreEngine{cfg: cfg}
}

// Evaluate sums the weighted scores of triggered conditions, capped at 100,
// and requires validation when the total crosses the configured threshold.
func (e *ScoreEngine) Evaluate(vctx ValidationContext) RoutingVerdict {
	var total float64
	var reasons []string
	for _, cond := range scoreConditions {
		score, triggered := cond.score(vctx, e.cfg)
		if !triggered {
			continue
		}
		total += score * cond.priority.Weight()
		reasons = append(reasons, cond.name)
	}
	if total > 100 {
		total = 100
	}
	return RoutingVerdict{
		ShouldValidate: total >= e.cfg.ScoreThreshold,
		Score:          total,
		Confidence:     total / 100,
		Reasons:        reasons,
	}
}

// RuleResult is one rule's evaluation outcome.
type RuleResult struct {
	Triggered bool
	Score     float64
	Reason    string
}

// ValidationRule is an independently pluggable routing rule.
type ValidationRule interface {
	Name() string
	Priority() Priority
	Evaluate(vctx ValidationContext, cfg config.ValidationRouting) RuleResult
}

type tableRule struct {
	cond scoreCondition
}

func (r tableRule) Name() string       { return r.cond.name }
func (r tableRule) Priority() Priority { return r.cond.priority }

func (r tableRule) Evaluate(vctx ValidationContext, cfg config.ValidationRouting) RuleResult {
	score, triggered := r.cond.score(vctx, cfg)
	if !triggered {
		return RuleResult{}
	}
	return RuleResult{Triggered: true, Score: score, Reason: r.cond.name}
}

// RuleEngine evaluates the same conditions as rule objects sorted by
// descending priority. A triggered critical rule forces validation regardless
// of the aggregate, which is the hard guarantee the score knob cannot bypass.
type RuleEngine struct {
	cfg   config.ValidationRouting
	rules []ValidationRule
}

// NewRuleEngine creates a rule engine with the default rule set.
func NewRuleEngine(cfg config.ValidationRouting) *RuleEngine {
	rules := make([]ValidationRule, 0, len(scoreConditions))
	for _, cond := range scoreConditions {
		rules = append(rules, tableRule{cond: cond})
	}
	e := &RuleEngine{cfg: cfg, rules: rules}
	e.sortRules()
	return e
}

// AddRule plugs in an extra rule, keeping the descending priority order.
func (e *RuleEngine) AddRule(rule ValidationRule) {
	e.rules = append(e.rules, rule)
	e.sortRules()
}

func (e *RuleEngine) sortRules() {
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].Priority().rank() > e.rules[j].Priority().rank()
	})
}

// Evaluate runs every rule and combines the weighted scores.
func (e *RuleEngine) Evaluate(vctx ValidationContext) RoutingVerdict {
	var total float64
	var criticalTriggered bool
	var reasons []string
	for _, rule := range e.rules {
		res := rule.Evaluate(vctx, e.cfg)
		if !res.Triggered {
			continue
		}
		total += res.Score * rule.Priority().Weight()
		reasons = append(reasons, res.Reason)
		if rule.Priority() == PriorityCritical {
			criticalTriggered = true
		}
	}
	if total > 100 {
		total = 100
	}
	return RoutingVerdict{
		ShouldValidate: total >= e.cfg.RuleThreshold || criticalTriggered,
		Score:          total,
		Confidence:     total / 100,
		Reasons:        reasons,
	}
}

// ValidationRouter is the hybrid of both engines. Either engine requiring
// validation is sufficient, and an internal error fails closed: skipping
// validation risks sending a non-compliant message, so the error path always
// validates.
type ValidationRouter struct {
	score *ScoreEngine
	rules *RuleEngine
}

// NewValidationRouter creates the hybrid router.
func NewValidationRouter(cfg config.ValidationRouting) *ValidationRouter {
	return &ValidationRouter{
		score: NewScoreEngine(cfg),
		rules: NewRuleEngine(cfg),
	}
}

// Decide returns the hybrid verdict for a candidate response.
func (r *ValidationRouter) Decide(vctx ValidationContext) (verdict HybridVerdict) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("ValidationRouter decision panicked, failing closed", "panic", rec)
			verdict = HybridVerdict{ShouldValidate: true, Confidence: 1}
		}
	}()

	scoreVerdict := r.score.Evaluate(vctx)
	ruleVerdict := r.rules.Evaluate(vctx)

	confidence := scoreVerdict.Confidence
	if ruleVerdict.Confidence > confidence {
		confidence = ruleVerdict.Confidence
	}
	verdict = HybridVerdict{
		ShouldValidate: scoreVerdict.ShouldValidate || ruleVerdict.ShouldValidate,
		Confidence:     confidence,
		ScoreVerdict:   scoreVerdict,
		RuleVerdict:    ruleVerdict,
	}
	slog.Debug("ValidationRouter decision",
		"should_validate", verdict.ShouldValidate,
		"score_total", scoreVerdict.Score, "rule_total", ruleVerdict.Score,
		"score_reasons", strings.Join(scoreVerdict.Reasons, ","))
	return verdict
}
