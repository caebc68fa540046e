// Package config binds the receptionist configuration from the environment.
//
// Every numeric threshold used by the circuit breaker and the validation
// routing engine lives here as a named, env-overridable knob; the defaults are
// the product values and must not be re-tuned casually.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// CircuitBreaker holds the stuck-conversation thresholds.
type CircuitBreaker struct {
	FailureThreshold      int `envconfig:"CB_FAILURE_THRESHOLD" default:"3"`
	ConfusionThreshold    int `envconfig:"CB_CONFUSION_THRESHOLD" default:"3"`
	SameQuestionThreshold int `envconfig:"CB_SAME_QUESTION_THRESHOLD" default:"3"`
	MessageCap            int `envconfig:"CB_MESSAGE_CAP" default:"20"`
	HandoffFailures       int `envconfig:"CB_HANDOFF_FAILURES" default:"4"`
}

// ValidationRouting holds the score/rule engine thresholds.
type ValidationRouting struct {
	ScoreThreshold      float64 `envconfig:"VALIDATION_SCORE_THRESHOLD" default:"50"`
	RuleThreshold       float64 `envconfig:"VALIDATION_RULE_THRESHOLD" default:"50"`
	ConfidenceThreshold float64 `envconfig:"VALIDATION_CONFIDENCE_THRESHOLD" default:"0.7"`
}

// Scheduling holds the booking-related limits.
type Scheduling struct {
	MaxEmailAttempts int    `envconfig:"SCHEDULING_MAX_EMAIL_ATTEMPTS" default:"3"`
	CalendarURL      string `envconfig:"CALENDAR_URL"`
	CalendarTimeout  string `envconfig:"CALENDAR_TIMEOUT" default:"10s"`
}

// Config is the full receptionist configuration.
type Config struct {
	Transport      string `envconfig:"MESSAGE_TRANSPORT" default:"whatsapp"`
	APIAddr        string `envconfig:"API_ADDR" default:":8080"`
	StateDir       string `envconfig:"CECILIA_STATE_DIR" default:"/var/lib/cecilia"`
	DatabaseDriver string `envconfig:"DB_DRIVER"`
	DatabaseDSN    string `envconfig:"DATABASE_URL"`
	WhatsAppDSN    string `envconfig:"WHATSAPP_DB_DSN"`
	OpenAIKey      string `envconfig:"OPENAI_API_KEY"`
	TwilioSID      string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioToken    string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioFrom     string `envconfig:"TWILIO_WHATSAPP_FROM"`
	HumanContact   string `envconfig:"HUMAN_CONTACT_PHONE" default:"(51) 99692-1999"`

	CircuitBreaker CircuitBreaker
	Validation     ValidationRouting
	Scheduling     Scheduling
}

// Load binds the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration with all default thresholds, used by tests
// and as the fallback when no environment is present.
func Default() *Config {
	return &Config{
		Transport:    "whatsapp",
		APIAddr:      ":8080",
		StateDir:     "/var/lib/cecilia",
		HumanContact: "(51) 99692-1999",
		CircuitBreaker: CircuitBreaker{
			FailureThreshold:      3,
			ConfusionThreshold:    3,
			SameQuestionThreshold: 3,
			MessageCap:            20,
			HandoffFailures:       4,
		},
		Validation: ValidationRouting{
			ScoreThreshold:      50,
			RuleThreshold:       50,
			ConfidenceThreshold: 0.7,
		},
		Scheduling: Scheduling{
			MaxEmailAttempts: 3,
			CalendarTimeout:  "10s",
		},
	}
}
