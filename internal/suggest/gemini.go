package suggest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const commentPrompt = `You write comments on short videos for a creator account.

Video description and title:
%s

Write one short, friendly comment (at most 40 words) that reacts to this video specifically.
No hashtags, no links, no quotation marks. Output the comment text only.`

var DefaultModels = []string{"gemini-2.5-flash", "gemini-2.5-flash-lite"}

var ErrNoSuggestion = errors.New("no model produced a suggestion")

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini generates comment text, walking Models in order and moving on when a
// model is rate limited or unavailable.
type Gemini struct {
	Models []string
	gen    generator
}

func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &Gemini{Models: DefaultModels, gen: client.Models}, nil
}

func (g *Gemini) Suggest(ctx context.Context, seed string) (string, error) {
	prompt := fmt.Sprintf(commentPrompt, strings.TrimSpace(seed))

	var lastErr error
	for _, model := range g.Models {
		result, err := g.gen.GenerateContent(ctx, model, genai.Text(prompt), nil)
		if err != nil {
			if retryable(err) {
				lastErr = err
				continue
			}
			return "", err
		}
		if text := firstText(result); text != "" {
			return text, nil
		}
		lastErr = fmt.Errorf("%s: empty response", model)
	}
	return "", fmt.Errorf("%w: %v", ErrNoSuggestion, lastErr)
}

func retryable(err error) bool {
	s := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "exhausted", "404", "not found", "503", "unavailable"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

func firstText(result *genai.GenerateContentResponse) string {
	if result == nil || len(result.Candidates) == 0 {
		return ""
	}
	c := result.Candidates[0]
	if c.Content == nil {
		return ""
	}
	for _, p := range c.Content.Parts {
		if p != nil && strings.TrimSpace(p.Text) != "" {
			return strings.TrimSpace(p.Text)
		}
	}
	return ""
}
