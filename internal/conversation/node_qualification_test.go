package conversation

import (
	"context"
	"strings"
	"testing"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
)

func TestExtractAge(t *testing.T) {
	tests := []struct {
		message string
		want    int
	}{
		{"7", 7},
		{"ele tem 7 anos", 7},
		{"tem 12", 12},
		{"200", 0},
		{"nasceu em 2019", 0},
		{"sete anos", 0},
		{"", 0},
		{"7 anos, faz 8 em março", 7},
	}
	for _, tt := range tests {
		if got := ExtractAge(tt.message); got != tt.want {
			t.Errorf("ExtractAge(%q) = %d, want %d", tt.message, got, tt.want)
		}
	}
}

func TestCollectAgeRetriesOnUnparseableMessage(t *testing.T) {
	node := NewQualificationNode()
	state := &models.ConversationState{
		CurrentStage: models.StageQualification,
		CurrentStep:  models.StepChildAgeInquiry,
		Validation:   models.DataValidation{},
	}

	out, err := node.Execute(context.Background(), state, "200")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.NextStep != models.StepChildAgeInquiry {
		t.Errorf("step should stay on age inquiry, got %s", out.NextStep)
	}
	if state.Collected.StudentAge != 0 {
		t.Errorf("no age should be collected, got %d", state.Collected.StudentAge)
	}
	if state.Validation.AttemptsFor("student_age") != 1 {
		t.Errorf("extraction attempt should be recorded, got %d", state.Validation.AttemptsFor("student_age"))
	}
	if state.Metrics.FailedAttempts != 1 {
		t.Errorf("failed attempt should be counted, got %d", state.Metrics.FailedAttempts)
	}
}

func TestCollectAgeBuckets(t *testing.T) {
	tests := []struct {
		name       string
		message    string
		wantTarget models.NodeName
		wantStep   models.Step
		wantPhrase string
	}{
		{"toddler", "2", models.NodeInformation, models.StepEducationLevel, "cedinho"},
		{"school age", "9 anos", models.NodeQualification, models.StepEducationLevel, "idade ótima"},
		{"adult", "tenho 35", models.NodeQualification, models.StepProgramInterest, "adultos"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := NewQualificationNode()
			state := &models.ConversationState{
				CurrentStage: models.StageQualification,
				CurrentStep:  models.StepChildAgeInquiry,
			}
			out, err := node.Execute(context.Background(), state, tt.message)
			if err != nil {
				t.Fatalf("Execute failed: %v", err)
			}
			if out.Target != tt.wantTarget || out.NextStep != tt.wantStep {
				t.Errorf("got (%s, %s), want (%s, %s)", out.Target, out.NextStep, tt.wantTarget, tt.wantStep)
			}
			if !strings.Contains(out.Response, tt.wantPhrase) {
				t.Errorf("response %q should mention %q", out.Response, tt.wantPhrase)
			}
		})
	}
}

func TestQualificationScore(t *testing.T) {
	full := models.CollectedData{
		StudentAge:         8,
		ProgramsOfInterest: []string{"matemática"},
		Goals:              "queremos reforço e disciplina de estudos",
		EducationLevel:     "3º ano",
		Availability:       "terças e quintas à tarde",
	}
	if got := QualificationScore(full); got != 100 {
		t.Errorf("fully qualified lead should score 100, got %d", got)
	}

	partial := models.CollectedData{StudentAge: 8, EducationLevel: "3º ano"}
	if got := QualificationScore(partial); got != 40 {
		t.Errorf("age plus education should score 40, got %d", got)
	}

	if got := QualificationScore(models.CollectedData{StudentAge: 25}); got != 0 {
		t.Errorf("adult age is outside the weighted range, got %d", got)
	}
}

func TestCollectGoalsAdvancesHighScoringLead(t *testing.T) {
	node := NewQualificationNode()
	state := &models.ConversationState{
		CurrentStage: models.StageQualification,
		CurrentStep:  models.StepGoalsAndExpectation,
		Collected: models.CollectedData{
			StudentAge:         8,
			ProgramsOfInterest: []string{"matemática"},
			EducationLevel:     "3º ano",
		},
	}

	out, err := node.Execute(context.Background(), state, "buscamos disciplina de estudos, temos as tardes livres")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.Target != models.NodeScheduling {
		t.Errorf("qualified lead should advance to scheduling, got %s", out.Target)
	}
}

func TestCollectGoalsRoutesColdLeadToInformation(t *testing.T) {
	node := NewQualificationNode()
	state := &models.ConversationState{
		CurrentStage: models.StageQualification,
		CurrentStep:  models.StepGoalsAndExpectation,
		Collected:    models.CollectedData{StudentAge: 8},
	}

	out, err := node.Execute(context.Background(), state, "ok")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out.Target != models.NodeInformation {
		t.Errorf("cold lead should go through information, got %s", out.Target)
	}
}

func TestParseProgramsDeduplicates(t *testing.T) {
	programs := parsePrograms("quero matemática e leitura, talvez matematica também")
	if len(programs) != 2 {
		t.Fatalf("expected 2 distinct programs, got %v", programs)
	}
	merged := mergePrograms([]string{"matemática"}, programs)
	if len(merged) != 2 {
		t.Errorf("merge should not duplicate matemática, got %v", merged)
	}
}

func TestParseProgramsRequiresWholeWords(t *testing.T) {
	if programs := parsePrograms("qual o formato das aulas?"); len(programs) != 0 {
		t.Errorf("\"formato\" must not read as matemática, got %v", programs)
	}
	if programs := parsePrograms("a correção é automática?"); len(programs) != 0 {
		t.Errorf("\"automática\" must not read as matemática, got %v", programs)
	}

	programs := parsePrograms("mat e ingles")
	if len(programs) != 2 {
		t.Fatalf("expected matemática and inglês, got %v", programs)
	}
	for _, p := range programs {
		if p != "matemática" && p != "inglês" {
			t.Errorf("unexpected program %q", p)
		}
	}
}
