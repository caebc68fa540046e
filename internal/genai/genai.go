// Package genai provides the answer generator backing the information node,
// using the OpenAI API.
package genai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// MinUsefulAnswerLength is the threshold under which an answer is treated as
// "no answer" and the caller falls through to the next tier.
const MinUsefulAnswerLength = 50

// ErrNoChoicesReturned indicates the API returned an empty choice list.
var ErrNoChoicesReturned = errors.New("no choices returned")

// chatService defines the minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionService adapts the OpenAI SDK's completion service to chatService.
type completionService struct {
	svc openai.ChatCompletionService
}

func (s completionService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Answer is the generator's reply to one question.
type Answer struct {
	Text            string
	Confidence      float64
	ConfidenceKnown bool
}

// Useful reports whether the answer is long enough to be worth delivering.
func (a Answer) Useful() bool {
	return len(strings.TrimSpace(a.Text)) >= MinUsefulAnswerLength
}

// QueryOptions tune a single generator call.
type QueryOptions struct {
	SystemPrompt string
	MaxTokens    int
}

// Client wraps the OpenAI ChatCompletion service.
type Client struct {
	chat chatService
}

// NewClient initializes a new GenAI client using the OPENAI_API_KEY
// environment variable.
func NewClient() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	return NewClientWithKey(apiKey)
}

// NewClientWithKey initializes a client with an explicit key.
func NewClientWithKey(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key not set")
	}
	cli := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{chat: completionService{svc: cli.Chat.Completions}}, nil
}

const defaultSystemPrompt = "Você é a Cecília, recepcionista do Kumon Vila A. " +
	"Responda de forma acolhedora e objetiva, em português, sobre o método Kumon, " +
	"programas, rotina de estudos e agendamento de visitas. Nunca diga que você é " +
	"uma IA, um robô ou um sistema."

// Query asks the generator one question and returns the answer. Callers must
// tolerate short or empty answers and fall back to safe content.
func (c *Client) Query(ctx context.Context, question string, opts QueryOptions) (Answer, error) {
	system := opts.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModelGPT4oMini,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(question),
		},
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		return Answer{}, fmt.Errorf("generator query failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Answer{}, ErrNoChoicesReturned
	}
	text := resp.Choices[0].Message.Content
	// The chat API reports no calibrated confidence; derive a coarse one from
	// answer completeness so the validation router can scale its score.
	confidence := 0.9
	if len(strings.TrimSpace(text)) < MinUsefulAnswerLength {
		confidence = 0.3
	}
	return Answer{Text: text, Confidence: confidence, ConfidenceKnown: true}, nil
}

// Generator adapts Client to callers that want a flat question-in,
// answer-out call with default options.
type Generator struct {
	cli *Client
}

// NewGenerator wraps a Client.
func NewGenerator(cli *Client) *Generator {
	return &Generator{cli: cli}
}

// Query asks one question with default options.
func (g *Generator) Query(ctx context.Context, question string) (string, float64, error) {
	answer, err := g.cli.Query(ctx, question, QueryOptions{})
	if err != nil {
		return "", 0, err
	}
	return answer.Text, answer.Confidence, nil
}
