package config

import "testing"

func TestDefaultThresholds(t *testing.T) {
	cfg := Default()

	if cfg.CircuitBreaker.FailureThreshold != 3 {
		t.Errorf("FailureThreshold = %d, want 3", cfg.CircuitBreaker.FailureThreshold)
	}
	if cfg.CircuitBreaker.ConfusionThreshold != 3 {
		t.Errorf("ConfusionThreshold = %d, want 3", cfg.CircuitBreaker.ConfusionThreshold)
	}
	if cfg.CircuitBreaker.SameQuestionThreshold != 3 {
		t.Errorf("SameQuestionThreshold = %d, want 3", cfg.CircuitBreaker.SameQuestionThreshold)
	}
	if cfg.CircuitBreaker.MessageCap != 20 {
		t.Errorf("MessageCap = %d, want 20", cfg.CircuitBreaker.MessageCap)
	}
	if cfg.CircuitBreaker.HandoffFailures != 4 {
		t.Errorf("HandoffFailures = %d, want 4", cfg.CircuitBreaker.HandoffFailures)
	}

	if cfg.Validation.ScoreThreshold != 50 {
		t.Errorf("ScoreThreshold = %v, want 50", cfg.Validation.ScoreThreshold)
	}
	if cfg.Validation.ConfidenceThreshold != 0.7 {
		t.Errorf("ConfidenceThreshold = %v, want 0.7", cfg.Validation.ConfidenceThreshold)
	}

	if cfg.Scheduling.MaxEmailAttempts != 3 {
		t.Errorf("MaxEmailAttempts = %d, want 3", cfg.Scheduling.MaxEmailAttempts)
	}
	if cfg.HumanContact != "(51) 99692-1999" {
		t.Errorf("HumanContact = %q", cfg.HumanContact)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("CB_MESSAGE_CAP", "30")
	t.Setenv("MESSAGE_TRANSPORT", "twilio")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.CircuitBreaker.MessageCap != 30 {
		t.Errorf("MessageCap override not applied, got %d", cfg.CircuitBreaker.MessageCap)
	}
	if cfg.Transport != "twilio" {
		t.Errorf("Transport override not applied, got %s", cfg.Transport)
	}
}
