package conversation

import (
	"strings"
	"testing"
	"time"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
)

func TestToleranceFor(t *testing.T) {
	tests := []struct {
		name string
		rctx RobustnessContext
		want ToleranceLevel
	}{
		{"clean context", RobustnessContext{}, ToleranceStrict},
		{"one fallback", RobustnessContext{FallbackDepth: 1}, ToleranceModerate},
		{"two degradations", RobustnessContext{FallbackDepth: 1, RecoveryAttempts: 1}, ToleranceModerate},
		{"three degradations", RobustnessContext{FallbackDepth: 2, ValidationAttempts: 1}, ToleranceLoose},
		{"deeply degraded", RobustnessContext{FallbackDepth: 3, RecoveryAttempts: 2}, ToleranceVeryLoose},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToleranceFor(tt.rctx); got != tt.want {
				t.Errorf("ToleranceFor(%+v) = %s, want %s", tt.rctx, got, tt.want)
			}
		})
	}
}

func TestValidateCriticalChecks(t *testing.T) {
	v := NewResponseValidator()

	out := v.Validate("Oi!", RobustnessContext{})
	if out.Approved || !out.Critical {
		t.Errorf("too-short response should be a critical rejection, got %+v", out)
	}

	out = v.Validate("Desculpe, sou uma IA e não posso ajudar com isso agora.", RobustnessContext{})
	if out.Approved || !out.Critical {
		t.Errorf("self-disclosure should be a critical rejection, got %+v", out)
	}

	// Critical checks hold even at the loosest tolerance.
	out = v.Validate("Como uma IA, tenho acesso limitado a essa informação.", RobustnessContext{FallbackDepth: 5})
	if out.Approved || !out.Critical {
		t.Errorf("disclosure must stay critical when degraded, got %+v", out)
	}
}

func TestValidateSoftChecksLoosenWithTolerance(t *testing.T) {
	v := NewResponseValidator()
	withPlaceholder := "Olá {{parent_name}}, seja bem-vinda ao Kumon Vila A!"

	out := v.Validate(withPlaceholder, RobustnessContext{})
	if out.Approved {
		t.Error("unresolved placeholder should fail under strict tolerance")
	}
	if out.Critical {
		t.Error("placeholder violation is soft, not critical")
	}

	out = v.Validate(withPlaceholder, RobustnessContext{FallbackDepth: 3})
	if !out.Approved {
		t.Errorf("loose tolerance should skip the placeholder check, got %+v", out)
	}
}

func TestValidateSensitiveContentOnlyStrict(t *testing.T) {
	v := NewResponseValidator()
	leaky := "Houve um internal error ao processar sua mensagem, tente novamente."

	if out := v.Validate(leaky, RobustnessContext{}); out.Approved {
		t.Error("sensitive content should fail under strict tolerance")
	}
	if out := v.Validate(leaky, RobustnessContext{FallbackDepth: 1}); !out.Approved {
		t.Errorf("moderate tolerance should skip the sensitive check, got %+v", out)
	}
}

func TestValidateOversizedResponse(t *testing.T) {
	v := NewResponseValidator()
	huge := strings.Repeat("a", models.MaxResponseLength+1)

	out := v.Validate(huge, RobustnessContext{})
	if out.Approved || out.Critical {
		t.Errorf("oversize should be a soft rejection under strict tolerance, got %+v", out)
	}
}

func TestRecordTracksHistoryAndFailures(t *testing.T) {
	v := NewResponseValidator()
	state := &models.ConversationState{CurrentStage: models.StageGreeting}
	now := time.Now()

	v.Record(state, ValidationOutcome{Approved: true, Tolerance: ToleranceStrict}, now)
	v.Record(state, ValidationOutcome{Approved: false, Critical: true,
		Violations: []string{"response_too_short"}}, now)

	if len(state.Validation.ValidationHistory) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(state.Validation.ValidationHistory))
	}
	if len(state.Trail.ValidationFailures) != 1 {
		t.Fatalf("expected 1 failure entry, got %d", len(state.Trail.ValidationFailures))
	}
	if state.Trail.ValidationFailures[0].Reason != "response_too_short" {
		t.Errorf("failure reason = %q", state.Trail.ValidationFailures[0].Reason)
	}
}
