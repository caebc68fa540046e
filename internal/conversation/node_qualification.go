package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
)

// agePattern matches a standalone 1-2 digit token; longer digit runs are not
// plausible ages and must fail extraction.
var agePattern = regexp.MustCompile(`(^|\D)(\d{1,2})(\D|$)`)

// Lead-qualification score weights. The five factors sum to 100; a lead at or
// above AdvanceScore goes straight to scheduling.
const (
	weightAgeAppropriate  = 25
	weightSubjectInterest = 20
	weightGoals           = 25
	weightEducationLevel  = 15
	weightAvailability    = 15
	// AdvanceScore is the qualification score at which a lead skips the
	// information stage.
	AdvanceScore = 80
)

var programKeywords = map[string]string{
	"matemática":  "matemática",
	"matematica":  "matemática",
	"mat":         "matemática",
	"português":   "português",
	"portugues":   "português",
	"leitura":     "português",
	"inglês":      "inglês",
	"ingles":      "inglês",
	"english":     "inglês",
}

// QualificationNode collects age, education level, program interest and
// goals, and scores the lead.
type QualificationNode struct{}

// NewQualificationNode creates the qualification node.
func NewQualificationNode() *QualificationNode { return &QualificationNode{} }

// Name returns the routing name of this node.
func (n *QualificationNode) Name() models.NodeName { return models.NodeQualification }

// Execute advances the qualification steps.
func (n *QualificationNode) Execute(ctx context.Context, state *models.ConversationState, userMessage string) (NodeOutcome, error) {
	slog.Debug("QualificationNode executing", "phone", state.PhoneNumber, "step", state.CurrentStep)

	switch state.CurrentStep {
	case models.StepChildAgeInquiry, "":
		return n.collectAge(state, userMessage)
	case models.StepEducationLevel:
		return n.collectEducationLevel(state, userMessage)
	case models.StepProgramInterest:
		return n.collectProgramInterest(state, userMessage)
	case models.StepGoalsAndExpectation:
		return n.collectGoals(state, userMessage)
	default:
		return n.collectAge(state, userMessage)
	}
}

// ExtractAge returns the first 1-2 digit integer in the message, or 0 when no
// parseable age token exists.
func ExtractAge(message string) int {
	m := agePattern.FindStringSubmatch(message)
	if m == nil {
		return 0
	}
	age, err := strconv.Atoi(m[2])
	if err != nil {
		return 0
	}
	return age
}

func (n *QualificationNode) collectAge(state *models.ConversationState, userMessage string) (NodeOutcome, error) {
	studentLabel := "seu filho(a)"
	if state.Collected.SelfInquiry {
		studentLabel = "você"
	} else if state.Collected.ChildName != "" {
		studentLabel = firstName(state.Collected.ChildName)
	}

	age := ExtractAge(userMessage)
	if age == 0 {
		recordFailure(state, "student_age", "no parseable age token")
		return NodeOutcome{
			Response: fmt.Sprintf("Não consegui entender a idade. Pode me dizer quantos anos %s tem? (por exemplo: 7)", studentLabel),
			Target:   models.NodeQualification,
			NextStep: models.StepChildAgeInquiry,
		}, nil
	}

	state.Collected.StudentAge = age
	state.Metrics.ConsecutiveConfusion = 0

	// Age buckets carry distinct response branches.
	switch {
	case age < 3:
		return NodeOutcome{
			Response: "Com menos de 3 anos ainda é cedinho para o Kumon, mas o tempo passa rápido! Posso anotar seu contato e te explicar como funciona o programa para quando chegar a hora?",
			Target:   models.NodeInformation,
			NextStep: models.StepEducationLevel,
		}, nil
	case age > 18:
		return NodeOutcome{
			Response: "O Kumon também tem muitos alunos adultos! Em qual matéria você tem mais interesse: matemática, português ou inglês?",
			Target:   models.NodeQualification,
			NextStep: models.StepProgramInterest,
		}, nil
	default:
		return NodeOutcome{
			Response: fmt.Sprintf("%d anos é uma idade ótima para começar! Em que ano da escola está? E qual matéria interessa mais: matemática, português ou inglês?", age),
			Target:   models.NodeQualification,
			NextStep: models.StepEducationLevel,
		}, nil
	}
}

func (n *QualificationNode) collectEducationLevel(state *models.ConversationState, userMessage string) (NodeOutcome, error) {
	trimmed := strings.TrimSpace(userMessage)
	if trimmed == "" {
		recordFailure(state, "education_level", "empty education answer")
		return NodeOutcome{
			Response: "Pode me contar em que ano da escola está?",
			Target:   models.NodeQualification,
			NextStep: models.StepEducationLevel,
		}, nil
	}
	state.Collected.EducationLevel = trimmed
	if programs := parsePrograms(userMessage); len(programs) > 0 {
		state.Collected.ProgramsOfInterest = mergePrograms(state.Collected.ProgramsOfInterest, programs)
		return NodeOutcome{
			Response: "Anotado! E o que vocês buscam com o Kumon? Reforço, disciplina de estudos, ficar à frente da escola?",
			Target:   models.NodeQualification,
			NextStep: models.StepGoalsAndExpectation,
		}, nil
	}
	return NodeOutcome{
		Response: "Anotado! E qual matéria interessa mais: matemática, português ou inglês?",
		Target:   models.NodeQualification,
		NextStep: models.StepProgramInterest,
	}, nil
}

func (n *QualificationNode) collectProgramInterest(state *models.ConversationState, userMessage string) (NodeOutcome, error) {
	programs := parsePrograms(userMessage)
	if len(programs) == 0 {
		recordFailure(state, "programs_of_interest", "no program keyword matched")
		return NodeOutcome{
			Response: "Temos três programas: matemática, português e inglês. Qual deles chama mais atenção?",
			Target:   models.NodeQualification,
			NextStep: models.StepProgramInterest,
		}, nil
	}
	state.Collected.ProgramsOfInterest = mergePrograms(state.Collected.ProgramsOfInterest, programs)
	state.Metrics.ConsecutiveConfusion = 0
	return NodeOutcome{
		Response: "Ótima escolha! E o que vocês buscam com o Kumon? Reforço, disciplina de estudos, ficar à frente da escola? E quais dias costumam ter livres?",
		Target:   models.NodeQualification,
		NextStep: models.StepGoalsAndExpectation,
	}, nil
}

func (n *QualificationNode) collectGoals(state *models.ConversationState, userMessage string) (NodeOutcome, error) {
	trimmed := strings.TrimSpace(userMessage)
	if len(trimmed) > 10 {
		state.Collected.Goals = trimmed
	}
	if len(trimmed) > 5 {
		state.Collected.Availability = trimmed
	}

	score := QualificationScore(state.Collected)
	slog.Info("QualificationNode lead scored", "phone", state.PhoneNumber, "score", score)

	if score >= AdvanceScore {
		return NodeOutcome{
			Response: "Pelo que você me contou, o Kumon tem tudo a ver com o que vocês buscam! Vamos agendar uma visita para conhecer a unidade? Qual dia da semana fica melhor?",
			Target:   models.NodeScheduling,
		}, nil
	}
	return NodeOutcome{
		Response: "Entendi! Deixa eu te contar rapidinho como o método funciona, e depois podemos agendar uma visita sem compromisso.",
		Target:   models.NodeInformation,
	}, nil
}

// QualificationScore computes the 0-100 lead score from the five weighted
// factors.
func QualificationScore(d models.CollectedData) int {
	score := 0
	if d.StudentAge >= 3 && d.StudentAge <= 18 {
		score += weightAgeAppropriate
	}
	if len(d.ProgramsOfInterest) > 0 {
		score += weightSubjectInterest
	}
	if len(d.Goals) > 10 {
		score += weightGoals
	}
	if d.EducationLevel != "" {
		score += weightEducationLevel
	}
	if len(d.Availability) > 5 {
		score += weightAvailability
	}
	return score
}

func parsePrograms(message string) []string {
	// Keywords match whole words only. A substring scan would read "mat"
	// inside "formato" or "automática" as interest in matemática.
	words := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	seen := make(map[string]bool)
	var programs []string
	for _, word := range words {
		program, ok := programKeywords[word]
		if ok && !seen[program] {
			seen[program] = true
			programs = append(programs, program)
		}
	}
	return programs
}

func mergePrograms(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p] = true
	}
	for _, p := range incoming {
		if !seen[p] {
			existing = append(existing, p)
			seen[p] = true
		}
	}
	return existing
}
