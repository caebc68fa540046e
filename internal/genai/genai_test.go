package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func completionWith(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestQuerySuccess(t *testing.T) {
	answer := "O Kumon é um método de estudo individualizado que desenvolve autonomia."
	mock := &mockChatService{resp: completionWith(answer)}
	client := &Client{chat: mock}

	got, err := client.Query(context.Background(), "O que é o Kumon?", QueryOptions{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.Text != answer {
		t.Errorf("expected %q, got %q", answer, got.Text)
	}
	if !got.Useful() {
		t.Error("a full-length answer should be useful")
	}
	if !got.ConfidenceKnown || got.Confidence != 0.9 {
		t.Errorf("full answer should carry high confidence, got %v", got.Confidence)
	}
}

func TestQueryShortAnswerLowConfidence(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: completionWith("Sim.")}}

	got, err := client.Query(context.Background(), "Tem vaga?", QueryOptions{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.Useful() {
		t.Error("a short answer should not be useful")
	}
	if got.Confidence != 0.3 {
		t.Errorf("short answer should carry low confidence, got %v", got.Confidence)
	}
}

func TestQueryServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.Query(context.Background(), "pergunta", QueryOptions{})
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestQueryNoChoices(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: openai.ChatCompletion{}}}
	_, err := client.Query(context.Background(), "pergunta", QueryOptions{})
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected ErrNoChoicesReturned, got %v", err)
	}
}

func TestQueryDefaultSystemPrompt(t *testing.T) {
	mock := &mockChatService{resp: completionWith(strings.Repeat("a", MinUsefulAnswerLength))}
	client := &Client{chat: mock}

	if _, err := client.Query(context.Background(), "pergunta", QueryOptions{}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(mock.params.Messages) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(mock.params.Messages))
	}
}

func TestNewClientWithKeyEmpty(t *testing.T) {
	if _, err := NewClientWithKey(""); err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}
