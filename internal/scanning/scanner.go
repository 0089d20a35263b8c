package scanning

import (
	"context"
	"fmt"

	"github.com/zombor/receipt-tracker/internal/receipt"
)

// Config selects and configures a scanner backend
type Config struct {
	Provider    string // gemini or ollama
	GeminiKey   string
	GeminiModel string
	OllamaURL   string
	OllamaModel string
}

// New creates the scanner named by cfg.Provider
func New(ctx context.Context, cfg Config) (receipt.Scanner, error) {
	var (
		scanner receipt.Scanner
		err     error
	)
	switch cfg.Provider {
	case "gemini", "":
		scanner, err = NewGemini(ctx, cfg.GeminiKey, cfg.GeminiModel)
	case "ollama":
		scanner, err = NewOllama(cfg.OllamaURL, cfg.OllamaModel)
	default:
		return nil, fmt.Errorf("unknown scanner %q (want gemini or ollama)", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return scanner, nil
}
