package suggest

import (
	"context"
	"errors"
	"strings"
)

// Suggester mirrors interaction.Suggester.
type Suggester interface {
	Suggest(ctx context.Context, seed string) (string, error)
}

// Static always returns the same text.
type Static struct {
	Text string
}

func (s Static) Suggest(context.Context, string) (string, error) {
	if strings.TrimSpace(s.Text) == "" {
		return "", errors.New("static suggestion is empty")
	}
	return s.Text, nil
}

// Chain returns the first non-empty suggestion.
type Chain []Suggester

func (c Chain) Suggest(ctx context.Context, seed string) (string, error) {
	var errs []error
	for _, s := range c {
		text, err := s.Suggest(ctx, seed)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			return text, nil
		}
	}
	if len(errs) == 0 {
		return "", ErrNoSuggestion
	}
	return "", errors.Join(errs...)
}
