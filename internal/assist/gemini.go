package assist

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/harryneopotter/teacher-website-public/internal/logger"
)

const maxSuggestionRunes = 700

// generator is the part of genai.Models used here.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Usage reports token consumption for one call
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// GeminiAssistant suggests polished showcase descriptions
type GeminiAssistant struct {
	models    generator
	modelName string
}

// NewGeminiAssistant creates a client for the Gemini API
func NewGeminiAssistant(ctx context.Context, apiKey, modelName string) (*GeminiAssistant, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if modelName == "" {
		return nil, fmt.Errorf("gemini model is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiAssistant{
		models:    client.Models,
		modelName: modelName,
	}, nil
}

func buildPrompt(title, author, description string) string {
	return fmt.Sprintf(`You help a teacher publish student work on a school website.
Rewrite the description below so it reads well on a public showcase page.
Keep it to at most three sentences, keep every fact, do not invent details, and do not use Markdown.
Return ONLY the rewritten description.

Title: %s
Author: %s
Description: %s`, title, author, description)
}

// SuggestDescription returns a rewritten description. The caller decides
// whether to show it; nothing is stored.
func (a *GeminiAssistant) SuggestDescription(ctx context.Context, title, author, description string) (string, error) {
	text, usage, err := a.generate(ctx, buildPrompt(title, author, description))
	if err != nil {
		return "", err
	}
	if usage != nil {
		logger.Debug("Gemini token usage", map[string]interface{}{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"total_tokens":      usage.TotalTokens,
		})
	}
	return clean(text), nil
}

func (a *GeminiAssistant) generate(ctx context.Context, prompt string) (string, *Usage, error) {
	if a == nil || a.models == nil {
		return "", nil, fmt.Errorf("gemini client not initialized")
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(0.3)),
		TopP:            genai.Ptr(float32(0.9)),
		MaxOutputTokens: 300,
		ThinkingConfig: &genai.ThinkingConfig{
			ThinkingBudget:  genai.Ptr(int32(0)),
			IncludeThoughts: false,
		},
	}

	resp, err := a.models.GenerateContent(ctx, a.modelName, genai.Text(prompt), config)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", nil, fmt.Errorf("no candidates in Gemini response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", nil, fmt.Errorf("no content parts in Gemini response")
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil && part.Text != "" && !part.Thought {
			sb.WriteString(part.Text)
		}
	}

	var usage *Usage
	if resp.UsageMetadata != nil {
		usage = &Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return strings.TrimSpace(sb.String()), usage, nil
}

// clean strips wrapping quotes and Markdown emphasis and caps the length.
func clean(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`")
	s = strings.NewReplacer("**", "", "__", "").Replace(s)
	s = strings.Join(strings.Fields(s), " ")

	r := []rune(s)
	if len(r) > maxSuggestionRunes {
		s = strings.TrimSpace(string(r[:maxSuggestionRunes])) + "…"
	}
	return s
}
