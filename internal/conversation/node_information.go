package conversation

import (
	"context"
	"log/slog"
	"strings"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
)

// faqEntry is one template answer matched by keywords, the fast first tier of
// the information chain.
type faqEntry struct {
	keywords []string
	answer   string
}

var faqTable = []faqEntry{
	{
		keywords: []string{"método", "metodo", "como funciona", "metodologia"},
		answer: "O método Kumon é individualizado: cada aluno avança no seu próprio ritmo, com material próprio e orientação diária. A ideia é desenvolver autonomia nos estudos, não só reforçar conteúdo.",
	},
	{
		keywords: []string{"preço", "preco", "valor", "mensalidade", "quanto custa"},
		answer: "Os valores variam por programa, e na visita à unidade conseguimos montar o plano certinho para o seu caso. Quer agendar um horário para conhecer?",
	},
	{
		keywords: []string{"horário", "horario", "funcionamento", "que horas"},
		answer: "A unidade atende de segunda a sexta, das 9h às 18h. O aluno vem à unidade duas vezes por semana e faz as tarefas em casa nos demais dias.",
	},
	{
		keywords: []string{"idade", "a partir de", "muito novo", "muito nova"},
		answer: "O Kumon atende a partir dos 3 anos e não tem limite de idade — temos alunos adultos também! O material se adapta ao nível de cada um.",
	},
	{
		keywords: []string{"matemática", "matematica"},
		answer: "O programa de matemática desenvolve cálculo e raciocínio até o nível universitário, começando do ponto ideal para cada aluno.",
	},
	{
		keywords: []string{"português", "portugues", "leitura"},
		answer: "O programa de português forma leitores críticos, trabalhando da primeira leitura até a interpretação de textos clássicos.",
	},
	{
		keywords: []string{"inglês", "ingles"},
		answer: "O programa de inglês desenvolve compreensão auditiva e leitura, do básico até textos originais em inglês.",
	},
}

// hardcodedFallback is the final tier: it never calls an external service.
const hardcodedFallback = "Essa é uma ótima pergunta! Na visita à unidade a orientadora consegue te explicar em detalhes. Posso agendar um horário para você conhecer o Kumon Vila A de pertinho?"

// InformationNode answers program questions through a three-tier chain:
// template match first, then the answer generator, then the hardcoded safe
// answer. The order is fixed and the final tier is never skipped past.
type InformationNode struct {
	generator AnswerGenerator
}

// NewInformationNode creates the information node. A nil generator disables
// the middle tier.
func NewInformationNode(generator AnswerGenerator) *InformationNode {
	return &InformationNode{generator: generator}
}

// Name returns the routing name of this node.
func (n *InformationNode) Name() models.NodeName { return models.NodeInformation }

// Execute answers the user's question and nudges toward scheduling.
func (n *InformationNode) Execute(ctx context.Context, state *models.ConversationState, userMessage string) (NodeOutcome, error) {
	slog.Debug("InformationNode executing", "phone", state.PhoneNumber, "step", state.CurrentStep)

	// Tier 1: template/keyword match. Target is <100ms; no I/O.
	if answer, ok := matchFAQ(userMessage); ok {
		state.Metrics.ConsecutiveConfusion = 0
		return NodeOutcome{
			Response: answer + "\n\nQuer agendar uma visita para conhecer a unidade?",
			Target:   models.NodeInformation,
			NextStep: models.StepProgramDetails,
		}, nil
	}

	// Tier 2: the retrieval-augmented generator. Timeouts and short answers
	// are treated identically to functional failures.
	if n.generator != nil {
		answer, confidence, err := n.generator.Query(ctx, userMessage)
		if err == nil && len(strings.TrimSpace(answer)) >= 50 {
			state.Metrics.ConsecutiveConfusion = 0
			return NodeOutcome{
				Response:        answer,
				Target:          models.NodeInformation,
				NextStep:        models.StepProgramDetails,
				Confidence:      confidence,
				ConfidenceKnown: true,
				FallbackDepth:   1,
			}, nil
		}
		if err != nil {
			slog.Warn("InformationNode generator failed, using hardcoded tier", "error", err, "phone", state.PhoneNumber)
			state.Metrics.FailedAttempts++
		}
	}

	// Tier 3: the hardcoded safe answer, guaranteed to involve no external
	// call.
	return NodeOutcome{
		Response:      hardcodedFallback,
		Target:        models.NodeInformation,
		NextStep:      models.StepProgramDetails,
		FallbackDepth: 2,
	}, nil
}

func matchFAQ(message string) (string, bool) {
	lower := strings.ToLower(message)
	for _, entry := range faqTable {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.answer, true
			}
		}
	}
	return "", false
}
