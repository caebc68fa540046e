package models

import (
	"errors"
	"testing"
	"time"
)

func TestMapTargetToStageStepCanonicalPairs(t *testing.T) {
	tests := []struct {
		name      string
		target    NodeName
		from      Stage
		wantStage Stage
		wantStep  Step
	}{
		{"greeting stays in greeting", NodeGreeting, StageGreeting, StageGreeting, StepWelcome},
		{"qualification from greeting", NodeQualification, StageGreeting, StageQualification, StepChildAgeInquiry},
		{"scheduling from qualification", NodeScheduling, StageQualification, StageScheduling, StepDatePreference},
		{"confirmation from scheduling", NodeConfirmation, StageScheduling, StageConfirmation, StepAppointmentConfirmed},
		{"handoff maps to completed", NodeHandoff, StageScheduling, StageCompleted, StepConversationEndedHandoff},
		{"emergency maps to handoff stage", NodeEmergencyProgression, StageQualification, StageHandoff, StepEmergencyRestart},
		{"end from confirmation", NodeEnd, StageConfirmation, StageCompleted, StepConversationComplete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage, step, err := MapTargetToStageStep(tt.target, tt.from)
			if err != nil {
				t.Fatalf("MapTargetToStageStep(%s, %s) failed: %v", tt.target, tt.from, err)
			}
			if stage != tt.wantStage || step != tt.wantStep {
				t.Errorf("got (%s, %s), want (%s, %s)", stage, step, tt.wantStage, tt.wantStep)
			}
		})
	}
}

func TestMapTargetToStageStepRejectsIllegalTransitions(t *testing.T) {
	// Greeting cannot jump straight to confirmation.
	_, _, err := MapTargetToStageStep(NodeConfirmation, StageGreeting)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("expected ErrIllegalTransition, got %v", err)
	}

	// Completed conversations only route to END.
	_, _, err = MapTargetToStageStep(NodeScheduling, StageCompleted)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("expected ErrIllegalTransition from completed, got %v", err)
	}

	_, _, err = MapTargetToStageStep(NodeName("bogus"), StageGreeting)
	if !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("expected ErrUnknownTarget, got %v", err)
	}
}

func TestHandoffAndEmergencyLegalFromEveryStage(t *testing.T) {
	stages := []Stage{StageGreeting, StageQualification, StageInformation, StageScheduling,
		StageValidation, StageConfirmation, StageHandoff, StageCompleted}
	for _, stage := range stages {
		if !IsLegalTransition(stage, NodeHandoff) {
			t.Errorf("handoff should be legal from %s", stage)
		}
		if !IsLegalTransition(stage, NodeEmergencyProgression) {
			t.Errorf("emergency progression should be legal from %s", stage)
		}
	}
}

func TestStepBelongsToStage(t *testing.T) {
	if !StepBelongsToStage(StageGreeting, StepParentNameCollection) {
		t.Error("parent_name_collection should belong to greeting")
	}
	if StepBelongsToStage(StageGreeting, StepChildAgeInquiry) {
		t.Error("child_age_inquiry should not belong to greeting")
	}
	if EntryStep(StageScheduling) != StepDatePreference {
		t.Errorf("scheduling entry step should be date_preference, got %s", EntryStep(StageScheduling))
	}
}

func TestHasMinimalFields(t *testing.T) {
	if (CollectedData{}).HasMinimalFields() {
		t.Error("empty collected data should not have minimal fields")
	}
	if !(CollectedData{ParentName: "Maria"}).HasMinimalFields() {
		t.Error("parent name alone should satisfy minimal fields")
	}
	if !(CollectedData{StudentAge: 7}).HasMinimalFields() {
		t.Error("student age alone should satisfy minimal fields")
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	original := &ConversationState{
		PhoneNumber:  "5545999990000",
		ThreadID:     "t1",
		CurrentStage: StageQualification,
		CurrentStep:  StepChildAgeInquiry,
		Collected:    CollectedData{ParentName: "Maria", ProgramsOfInterest: []string{"matemática"}},
		Validation:   DataValidation{ExtractionAttempts: map[string]int{"student_age": 1}},
		Trail:        DecisionTrail{LastDecisions: NewDecisionRing(MaxTrailDecisions)},
	}
	original.AppendMessage(RoleUser, "oi", now)

	clone := original.Clone()
	clone.Collected.ParentName = "João"
	clone.Collected.ProgramsOfInterest[0] = "inglês"
	clone.Validation.ExtractionAttempts["student_age"] = 99
	clone.AppendMessage(RoleAssistant, "olá", now)
	clone.Trail.RecordDecision(DecisionEntry{Kind: DecisionRouting, Timestamp: now})

	if original.Collected.ParentName != "Maria" {
		t.Error("clone mutation leaked into original parent name")
	}
	if original.Collected.ProgramsOfInterest[0] != "matemática" {
		t.Error("clone mutation leaked into original programs slice")
	}
	if original.Validation.ExtractionAttempts["student_age"] != 1 {
		t.Error("clone mutation leaked into original extraction attempts")
	}
	if len(original.Messages) != 1 {
		t.Errorf("clone append leaked into original transcript, len=%d", len(original.Messages))
	}
	if original.Trail.LastDecisions.Len() != 0 {
		t.Error("clone trail record leaked into original")
	}
}

func TestIsTerminal(t *testing.T) {
	s := &ConversationState{CurrentStage: StageScheduling}
	if s.IsTerminal() {
		t.Error("scheduling should not be terminal")
	}
	s.CurrentStage = StageCompleted
	if !s.IsTerminal() {
		t.Error("completed should be terminal")
	}
}
