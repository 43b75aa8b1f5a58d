package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultInstruction is the instruction sent ahead of the entries table.
const DefaultInstruction = `Você é um gestor avaliando o desempenho de uma equipe fiscal.
Com base na tabela de lançamentos de horas abaixo, escreva uma avaliação de
desempenho em português. Use títulos markdown (#, ##) para as seções:
resumo geral, distribuição de horas por projeto e atividade, pontos fortes,
pontos de atenção e recomendações. Não invente dados que não estejam na tabela.`

// Prompt joins the instruction and the rendered table.
func Prompt(instruction, table string) string {
	if strings.TrimSpace(instruction) == "" {
		instruction = DefaultInstruction
	}
	return strings.TrimSpace(instruction) + "\n\n" + table
}

// Summarizer turns a prompt into free-form text.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("summarizer returned no text")

// GenAISummarizer calls a Gemini model.
type GenAISummarizer struct {
	client *genai.Client
	model  string
}

// NewGenAISummarizer creates a summarizer for model using apiKey.
func NewGenAISummarizer(ctx context.Context, apiKey, model string) (*GenAISummarizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required for AI reports")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAISummarizer{client: client, model: model}, nil
}

// Summarize implements Summarizer.
func (s *GenAISummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	resp, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("generating report with %s: %w", s.model, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
