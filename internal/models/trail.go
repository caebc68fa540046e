package models

import "time"

// Bounds for the decision trail ring buffers.
const (
	// MaxTrailDecisions bounds decision_trail.last_decisions.
	MaxTrailDecisions = 10
	// MaxTrailValidationFailures bounds decision_trail.validation_failures.
	MaxTrailValidationFailures = 5
)

// DecisionKind tags an entry in the decision trail.
type DecisionKind string

const (
	// DecisionCircuitBreakerAction records a circuit breaker activation. The
	// emergency progression node scans for the most recent entry of this kind,
	// so it must never be dropped out of order.
	DecisionCircuitBreakerAction DecisionKind = "circuit_breaker_action"
	// DecisionRouting records an ordinary routing outcome.
	DecisionRouting DecisionKind = "routing"
	// DecisionDeliveryCommit records a committed stage transition.
	DecisionDeliveryCommit DecisionKind = "delivery_commit"
	// DecisionValidation records a validation-routing verdict.
	DecisionValidation DecisionKind = "validation"
)

// DecisionEntry is one audit entry in the decision trail.
type DecisionEntry struct {
	Kind      DecisionKind `json:"kind"`
	Action    string       `json:"action,omitempty"`
	Target    NodeName     `json:"target,omitempty"`
	Detail    string       `json:"detail,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// DecisionRing is a fixed-capacity ring of decision entries with
// push-evict-oldest semantics. The bound is enforced by the type, not by
// callers slicing.
type DecisionRing struct {
	Entries []DecisionEntry `json:"entries"`
	Cap     int             `json:"cap"`
}

// NewDecisionRing creates a ring with the given capacity.
func NewDecisionRing(capacity int) DecisionRing {
	return DecisionRing{Cap: capacity}
}

// Push appends an entry, evicting the oldest when the ring is full.
func (r *DecisionRing) Push(e DecisionEntry) {
	if r.Cap <= 0 {
		r.Cap = MaxTrailDecisions
	}
	r.Entries = append(r.Entries, e)
	if len(r.Entries) > r.Cap {
		copy(r.Entries, r.Entries[len(r.Entries)-r.Cap:])
		r.Entries = r.Entries[:r.Cap]
	}
}

// Len returns the number of entries currently held.
func (r *DecisionRing) Len() int { return len(r.Entries) }

// Newest iterates entries most-recent-first and returns the first entry for
// which match returns true.
func (r *DecisionRing) Newest(match func(DecisionEntry) bool) (DecisionEntry, bool) {
	for i := len(r.Entries) - 1; i >= 0; i-- {
		if match(r.Entries[i]) {
			return r.Entries[i], true
		}
	}
	return DecisionEntry{}, false
}

// clone returns a deep copy of the ring.
func (r DecisionRing) clone() DecisionRing {
	c := r
	c.Entries = append([]DecisionEntry(nil), r.Entries...)
	return c
}

// ValidationFailure is one bounded-history record of a blocked delivery.
type ValidationFailure struct {
	Stage     Stage     `json:"stage"`
	Reason    string    `json:"reason"`
	Critical  bool      `json:"critical"`
	Timestamp time.Time `json:"timestamp"`
}

// DecisionTrail is the bounded audit trail attached to a conversation.
type DecisionTrail struct {
	LastDecisions      DecisionRing        `json:"last_decisions"`
	EdgeFunctionCalls  int                 `json:"edge_function_calls"`
	ValidationFailures []ValidationFailure `json:"validation_failures"`
}

// RecordDecision appends one decision entry, bounded to MaxTrailDecisions.
func (t *DecisionTrail) RecordDecision(e DecisionEntry) {
	if t.LastDecisions.Cap == 0 {
		t.LastDecisions.Cap = MaxTrailDecisions
	}
	t.LastDecisions.Push(e)
}

// RecordValidationFailure appends one failure, bounded to
// MaxTrailValidationFailures, oldest evicted first.
func (t *DecisionTrail) RecordValidationFailure(f ValidationFailure) {
	t.ValidationFailures = append(t.ValidationFailures, f)
	if len(t.ValidationFailures) > MaxTrailValidationFailures {
		copy(t.ValidationFailures, t.ValidationFailures[len(t.ValidationFailures)-MaxTrailValidationFailures:])
		t.ValidationFailures = t.ValidationFailures[:MaxTrailValidationFailures]
	}
}

// LastCircuitBreakerAction returns the most recent circuit breaker action
// recorded in the trail, if any.
func (t *DecisionTrail) LastCircuitBreakerAction() (string, bool) {
	e, ok := t.LastDecisions.Newest(func(e DecisionEntry) bool {
		return e.Kind == DecisionCircuitBreakerAction
	})
	if !ok {
		return "", false
	}
	return e.Action, true
}

// Clone returns a deep copy of the trail.
func (t DecisionTrail) Clone() DecisionTrail {
	c := t
	c.LastDecisions = t.LastDecisions.clone()
	c.ValidationFailures = append([]ValidationFailure(nil), t.ValidationFailures...)
	return c
}
