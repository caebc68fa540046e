package models

import (
	"fmt"
	"testing"
	"time"
)

func TestDecisionRingEvictsOldest(t *testing.T) {
	trail := DecisionTrail{LastDecisions: NewDecisionRing(MaxTrailDecisions)}
	now := time.Now()

	for i := 0; i < 15; i++ {
		trail.RecordDecision(DecisionEntry{
			Kind:      DecisionRouting,
			Detail:    fmt.Sprintf("turn-%d", i),
			Timestamp: now,
		})
	}

	if trail.LastDecisions.Len() != MaxTrailDecisions {
		t.Fatalf("ring should hold %d entries, got %d", MaxTrailDecisions, trail.LastDecisions.Len())
	}
	if trail.LastDecisions.Entries[0].Detail != "turn-5" {
		t.Errorf("oldest surviving entry should be turn-5, got %s", trail.LastDecisions.Entries[0].Detail)
	}
	if trail.LastDecisions.Entries[MaxTrailDecisions-1].Detail != "turn-14" {
		t.Errorf("newest entry should be turn-14, got %s", trail.LastDecisions.Entries[MaxTrailDecisions-1].Detail)
	}
}

func TestValidationFailuresBounded(t *testing.T) {
	var trail DecisionTrail
	now := time.Now()

	for i := 0; i < 8; i++ {
		trail.RecordValidationFailure(ValidationFailure{
			Stage:     StageGreeting,
			Reason:    fmt.Sprintf("failure-%d", i),
			Timestamp: now,
		})
	}

	if len(trail.ValidationFailures) != MaxTrailValidationFailures {
		t.Fatalf("failures should be bounded to %d, got %d", MaxTrailValidationFailures, len(trail.ValidationFailures))
	}
	if trail.ValidationFailures[0].Reason != "failure-3" {
		t.Errorf("oldest surviving failure should be failure-3, got %s", trail.ValidationFailures[0].Reason)
	}
}

func TestLastCircuitBreakerActionScansMostRecentFirst(t *testing.T) {
	var trail DecisionTrail
	now := time.Now()

	if _, ok := trail.LastCircuitBreakerAction(); ok {
		t.Fatal("empty trail should have no circuit breaker action")
	}

	trail.RecordDecision(DecisionEntry{Kind: DecisionCircuitBreakerAction, Action: "information_bypass", Timestamp: now})
	trail.RecordDecision(DecisionEntry{Kind: DecisionRouting, Timestamp: now})
	trail.RecordDecision(DecisionEntry{Kind: DecisionCircuitBreakerAction, Action: "handoff", Timestamp: now})
	trail.RecordDecision(DecisionEntry{Kind: DecisionDeliveryCommit, Timestamp: now})

	action, ok := trail.LastCircuitBreakerAction()
	if !ok {
		t.Fatal("expected a circuit breaker action")
	}
	if action != "handoff" {
		t.Errorf("expected most recent action handoff, got %s", action)
	}
}

func TestDecisionRingSurvivesEvictionOfUnrelatedKinds(t *testing.T) {
	var trail DecisionTrail
	now := time.Now()

	trail.RecordDecision(DecisionEntry{Kind: DecisionCircuitBreakerAction, Action: "emergency_scheduling", Timestamp: now})
	for i := 0; i < MaxTrailDecisions-1; i++ {
		trail.RecordDecision(DecisionEntry{Kind: DecisionRouting, Timestamp: now})
	}

	// Exactly at capacity: the activation is the oldest entry but still held.
	action, ok := trail.LastCircuitBreakerAction()
	if !ok || action != "emergency_scheduling" {
		t.Fatalf("activation should still be visible at capacity, got %q ok=%v", action, ok)
	}

	// One more push evicts it.
	trail.RecordDecision(DecisionEntry{Kind: DecisionRouting, Timestamp: now})
	if _, ok := trail.LastCircuitBreakerAction(); ok {
		t.Error("activation should have been evicted")
	}
}
