// Package models defines the core data structures for the Cecília receptionist.
//
// It includes the conversation state record, the stage/step sum types, and the
// canonical stage mapping table shared across modules.
package models

import (
	"errors"
	"time"
)

// Stage identifies the major phase of a conversation.
type Stage string

const (
	// StageGreeting collects the parent and child names.
	StageGreeting Stage = "greeting"
	// StageQualification collects age, education level and interests.
	StageQualification Stage = "qualification"
	// StageInformation answers questions about the program.
	StageInformation Stage = "information_gathering"
	// StageScheduling books the appointment.
	StageScheduling Stage = "scheduling"
	// StageValidation re-checks a candidate response before delivery.
	StageValidation Stage = "validation"
	// StageConfirmation confirms a booked appointment.
	StageConfirmation Stage = "confirmation"
	// StageHandoff transfers the conversation to a human.
	StageHandoff Stage = "handoff"
	// StageCompleted marks a terminal conversation.
	StageCompleted Stage = "completed"
)

// Step identifies the position within a stage.
type Step string

const (
	// Greeting steps
	StepWelcome              Step = "welcome"
	StepParentNameCollection Step = "parent_name_collection"
	StepChildNameCollection  Step = "child_name_collection"
	StepTargetClarification  Step = "target_clarification"

	// Qualification steps
	StepChildAgeInquiry     Step = "child_age_inquiry"
	StepEducationLevel      Step = "education_level"
	StepProgramInterest     Step = "program_interest"
	StepGoalsAndExpectation Step = "goals_and_expectation"

	// Information steps
	StepMethodologyInfo Step = "methodology_info"
	StepProgramDetails  Step = "program_details"

	// Scheduling steps
	StepDatePreference  Step = "date_preference"
	StepTimeSelection   Step = "time_selection"
	StepEmailCollection Step = "email_collection"

	// Validation steps
	StepResponseReview Step = "response_review"

	// Confirmation steps
	StepAppointmentConfirmed Step = "appointment_confirmed"

	// Handoff / terminal steps
	StepHumanHandoff             Step = "human_handoff"
	StepEmergencyRestart         Step = "emergency_restart"
	StepConversationEndedHandoff Step = "conversation_ended_handoff"
	StepConversationComplete     Step = "conversation_complete"
)

// IsValidStage checks if the given stage is supported.
func IsValidStage(s Stage) bool {
	switch s {
	case StageGreeting, StageQualification, StageInformation, StageScheduling,
		StageValidation, StageConfirmation, StageHandoff, StageCompleted:
		return true
	default:
		return false
	}
}

// stageSteps is the single source of truth for which steps belong to a stage.
var stageSteps = map[Stage][]Step{
	StageGreeting:      {StepWelcome, StepParentNameCollection, StepChildNameCollection, StepTargetClarification},
	StageQualification: {StepChildAgeInquiry, StepEducationLevel, StepProgramInterest, StepGoalsAndExpectation},
	StageInformation:   {StepMethodologyInfo, StepProgramDetails},
	StageScheduling:    {StepDatePreference, StepTimeSelection, StepEmailCollection},
	StageValidation:    {StepResponseReview},
	StageConfirmation:  {StepAppointmentConfirmed},
	StageHandoff:       {StepHumanHandoff, StepEmergencyRestart},
	StageCompleted:     {StepConversationEndedHandoff, StepConversationComplete},
}

// StepBelongsToStage reports whether step is part of the step-set of stage.
func StepBelongsToStage(stage Stage, step Step) bool {
	for _, s := range stageSteps[stage] {
		if s == step {
			return true
		}
	}
	return false
}

// EntryStep returns the first step of a stage.
func EntryStep(stage Stage) Step {
	steps := stageSteps[stage]
	if len(steps) == 0 {
		return ""
	}
	return steps[0]
}

// NodeName identifies a routing target in the conversation graph.
type NodeName string

const (
	NodeGreeting             NodeName = "greeting"
	NodeQualification        NodeName = "qualification"
	NodeInformation          NodeName = "information"
	NodeScheduling           NodeName = "scheduling"
	NodeValidation           NodeName = "validation"
	NodeConfirmation         NodeName = "confirmation"
	NodeHandoff              NodeName = "handoff"
	NodeEmergencyProgression NodeName = "emergency_progression"
	NodeEnd                  NodeName = "end"
)

// IsValidNodeName checks if the given node name is part of the graph.
func IsValidNodeName(n NodeName) bool {
	switch n {
	case NodeGreeting, NodeQualification, NodeInformation, NodeScheduling,
		NodeValidation, NodeConfirmation, NodeHandoff, NodeEmergencyProgression, NodeEnd:
		return true
	default:
		return false
	}
}

// Error variables shared across the delivery and routing layers.
var (
	ErrEmptyRecipient        = errors.New("recipient cannot be empty")
	ErrEmptyResponse         = errors.New("response cannot be empty")
	ErrResponseTooLong       = errors.New("response exceeds maximum length")
	ErrUnresolvedPlaceholder = errors.New("response contains unresolved template placeholder")
	ErrUnknownTarget         = errors.New("unknown routing target")
	ErrIllegalTransition     = errors.New("transition not legal from current stage")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrConversationTerminal  = errors.New("conversation is terminal")
)

// MaxResponseLength is the maximum allowed length for an outbound message body.
const MaxResponseLength = 4096

// canonicalTargets maps each routing target to the committed (stage, step) pair.
// The delivery service consults this table and nothing else when committing a
// transition; routing targets outside this table are rejected.
var canonicalTargets = map[NodeName]struct {
	Stage Stage
	Step  Step
}{
	NodeGreeting:             {StageGreeting, StepWelcome},
	NodeQualification:        {StageQualification, StepChildAgeInquiry},
	NodeInformation:          {StageInformation, StepMethodologyInfo},
	NodeScheduling:           {StageScheduling, StepDatePreference},
	NodeValidation:           {StageValidation, StepResponseReview},
	NodeConfirmation:         {StageConfirmation, StepAppointmentConfirmed},
	NodeHandoff:              {StageCompleted, StepConversationEndedHandoff},
	NodeEmergencyProgression: {StageHandoff, StepEmergencyRestart},
	NodeEnd:                  {StageCompleted, StepConversationComplete},
}

// legalTransitions lists, per stage, the routing targets a conversation may
// move to. NodeEmergencyProgression and NodeHandoff are legal from every
// stage; the table records the remaining stage-specific edges.
var legalTransitions = map[Stage][]NodeName{
	StageGreeting:      {NodeGreeting, NodeQualification, NodeInformation, NodeScheduling},
	StageQualification: {NodeQualification, NodeInformation, NodeScheduling},
	StageInformation:   {NodeInformation, NodeQualification, NodeScheduling},
	StageScheduling:    {NodeScheduling, NodeConfirmation, NodeInformation},
	StageValidation:    {NodeValidation, NodeGreeting, NodeQualification, NodeInformation, NodeScheduling, NodeConfirmation},
	StageConfirmation:  {NodeConfirmation, NodeScheduling, NodeEnd},
	StageHandoff:       {NodeGreeting, NodeQualification, NodeInformation, NodeScheduling, NodeEnd},
	StageCompleted:     {NodeEnd},
}

// IsLegalTransition reports whether target is a legal routing target from the
// given stage. Emergency progression and handoff are reachable from anywhere.
func IsLegalTransition(from Stage, target NodeName) bool {
	if target == NodeEmergencyProgression || target == NodeHandoff {
		return true
	}
	for _, t := range legalTransitions[from] {
		if t == target {
			return true
		}
	}
	return false
}

// MapTargetToStageStep resolves a routing target to its canonical committed
// (stage, step) pair, validating the transition against the legal set for the
// current stage. This is the only path by which stage/step values are produced.
func MapTargetToStageStep(target NodeName, current Stage) (Stage, Step, error) {
	entry, ok := canonicalTargets[target]
	if !ok {
		return "", "", ErrUnknownTarget
	}
	if !IsLegalTransition(current, target) {
		return "", "", ErrIllegalTransition
	}
	return entry.Stage, entry.Step, nil
}

// RoutingDecision is the typed outcome of a routing function, carrying the
// corrected target alongside the original one when the delivery layer had to
// substitute a safe target.
type RoutingDecision struct {
	TargetNode     NodeName `json:"target_node"`
	OriginalTarget NodeName `json:"original_target"`
	Corrected      bool     `json:"corrected"`
	Reason         string   `json:"reason,omitempty"`
}

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one entry in the append-only conversation transcript.
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// CollectedData holds the business fields gathered over the conversation.
// Fields are additive; correction detection is the only path that overwrites.
type CollectedData struct {
	ParentName         string   `json:"parent_name,omitempty"`
	ChildName          string   `json:"child_name,omitempty"`
	SelfInquiry        bool     `json:"self_inquiry,omitempty"`
	StudentAge         int      `json:"student_age,omitempty"`
	EducationLevel     string   `json:"education_level,omitempty"`
	ProgramsOfInterest []string `json:"programs_of_interest,omitempty"`
	Goals              string   `json:"goals,omitempty"`
	Availability       string   `json:"availability,omitempty"`
	ContactEmail       string   `json:"contact_email,omitempty"`
	SelectedSlot       string   `json:"selected_slot,omitempty"`
	DatePreferences    string   `json:"date_preferences,omitempty"`
}

// HasMinimalFields reports whether the minimal business fields needed for an
// emergency booking are present (a name or a plausible age).
func (d CollectedData) HasMinimalFields() bool {
	return d.ParentName != "" || d.ChildName != "" || d.StudentAge > 0
}

// ConversationMetrics are the counters read by the circuit breaker. They are
// monotonic within a recovery window and reset only by emergency progression.
type ConversationMetrics struct {
	FailedAttempts       int `json:"failed_attempts"`
	ConsecutiveConfusion int `json:"consecutive_confusion"`
	SameQuestionCount    int `json:"same_question_count"`
	MessageCount         int `json:"message_count"`
	// MessagesAtLastRecovery is the message count observed when the emergency
	// progression last consumed an activation. The message cap is measured
	// against this baseline, since the count itself never resets.
	MessagesAtLastRecovery int       `json:"messages_at_last_recovery,omitempty"`
	HumanRequests          int       `json:"human_requests"`
	CreatedAt              time.Time `json:"created_at"`
	ProblematicFields      []string  `json:"problematic_fields,omitempty"`
}

// ValidationRecord is one append-only entry in the validation history.
type ValidationRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Passed    bool      `json:"passed"`
	Critical  bool      `json:"critical"`
	Reason    string    `json:"reason,omitempty"`
}

// DataValidation tracks per-field extraction retries and the validation audit.
type DataValidation struct {
	ExtractionAttempts   map[string]int     `json:"extraction_attempts,omitempty"`
	PendingConfirmations []string           `json:"pending_confirmations,omitempty"`
	ValidationHistory    []ValidationRecord `json:"validation_history,omitempty"`
	LastExtractionError  string             `json:"last_extraction_error,omitempty"`
}

// AttemptsFor returns the extraction retry count for a field.
func (v *DataValidation) AttemptsFor(field string) int {
	if v.ExtractionAttempts == nil {
		return 0
	}
	return v.ExtractionAttempts[field]
}

// RecordAttempt increments the extraction retry counter for a field.
func (v *DataValidation) RecordAttempt(field string) int {
	if v.ExtractionAttempts == nil {
		v.ExtractionAttempts = make(map[string]int)
	}
	v.ExtractionAttempts[field]++
	return v.ExtractionAttempts[field]
}

// ConversationState is the versioned record of one phone-number conversation.
type ConversationState struct {
	PhoneNumber    string              `json:"phone_number"`
	ConversationID string              `json:"conversation_id"`
	ThreadID       string              `json:"thread_id"`
	CurrentStage   Stage               `json:"current_stage"`
	CurrentStep    Step                `json:"current_step"`
	Collected      CollectedData       `json:"collected_data"`
	Metrics        ConversationMetrics `json:"conversation_metrics"`
	Validation     DataValidation      `json:"data_validation"`
	Trail          DecisionTrail       `json:"decision_trail"`
	Messages       []Message           `json:"messages"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// IsTerminal reports whether the conversation has logically ended.
func (s *ConversationState) IsTerminal() bool {
	return s.CurrentStage == StageCompleted
}

// AppendMessage appends one transcript entry. The transcript is append-only.
func (s *ConversationState) AppendMessage(role MessageRole, content string, at time.Time) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content, Timestamp: at})
}

// Clone returns a deep copy of the state, used to buffer node updates until
// the delivery commit.
func (s *ConversationState) Clone() *ConversationState {
	c := *s
	c.Collected.ProgramsOfInterest = append([]string(nil), s.Collected.ProgramsOfInterest...)
	c.Metrics.ProblematicFields = append([]string(nil), s.Metrics.ProblematicFields...)
	c.Validation.PendingConfirmations = append([]string(nil), s.Validation.PendingConfirmations...)
	c.Validation.ValidationHistory = append([]ValidationRecord(nil), s.Validation.ValidationHistory...)
	if s.Validation.ExtractionAttempts != nil {
		c.Validation.ExtractionAttempts = make(map[string]int, len(s.Validation.ExtractionAttempts))
		for k, v := range s.Validation.ExtractionAttempts {
			c.Validation.ExtractionAttempts[k] = v
		}
	}
	c.Trail = s.Trail.Clone()
	c.Messages = append([]Message(nil), s.Messages...)
	return &c
}
