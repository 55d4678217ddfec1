// Package summary generates meeting summaries with a local OpenAI-compatible
// model when the backend returned none.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/hubenschmidt/meeting-sidecar/internal/metrics"
	"github.com/hubenschmidt/meeting-sidecar/internal/prompts"
)

// Config points at an OpenAI-compatible chat endpoint, e.g. Ollama's /v1.
type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	MaxTokens    int
	Timeout      time.Duration
}

// Summarizer runs a single-turn agent over the transcript.
type Summarizer struct {
	cfg      Config
	provider agents.ModelProvider
}

func New(cfg Config) (*Summarizer, error) {
	if cfg.BaseURL == "" || cfg.Model == "" {
		return nil, errors.New("summary: base url and model are required")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = "unused"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	provider := agents.NewOpenAIProvider(agents.OpenAIProviderParams{
		BaseURL:      param.NewOpt(cfg.BaseURL),
		APIKey:       param.NewOpt(cfg.APIKey),
		UseResponses: param.NewOpt(false),
	})
	return &Summarizer{cfg: cfg, provider: provider}, nil
}

// Summarize returns bullets and action items for transcript.
func (s *Summarizer) Summarize(ctx context.Context, title, transcript string) ([]string, []string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	start := time.Now()

	agent := agents.New("summarizer").
		WithInstructions(prompts.ForSummary(s.cfg.SystemPrompt)).
		WithModel(s.cfg.Model).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(s.cfg.MaxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   s.provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	events, errCh, err := runner.RunStreamedChan(ctx, agent, prompts.Transcript(title, transcript))
	if err != nil {
		return nil, nil, fmt.Errorf("summary stream start: %w", err)
	}

	var text strings.Builder
	for ev := range events {
		raw, ok := ev.(agents.RawResponsesStreamEvent)
		if !ok || raw.Data.Type != "response.output_text.delta" {
			continue
		}
		text.WriteString(raw.Data.Delta)
	}
	if streamErr := <-errCh; streamErr != nil {
		return nil, nil, fmt.Errorf("summary stream: %w", streamErr)
	}

	metrics.StageDuration.WithLabelValues("summary").Observe(time.Since(start).Seconds())
	return Parse(text.String())
}

// Parse reads the model's reply. JSON is preferred; a markdown bullet list
// is accepted as bullets only.
func Parse(reply string) ([]string, []string, error) {
	body := strings.TrimSpace(reply)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)

	if i, j := strings.Index(body, "{"), strings.LastIndex(body, "}"); i >= 0 && j > i {
		var out struct {
			Bullets     []string `json:"bullets"`
			ActionItems []string `json:"action_items"`
		}
		if err := json.Unmarshal([]byte(body[i:j+1]), &out); err == nil {
			bullets, actions := clean(out.Bullets), clean(out.ActionItems)
			if len(bullets) == 0 {
				return nil, nil, errors.New("summary: model returned no bullets")
			}
			return bullets, actions, nil
		}
	}

	var bullets []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		for _, p := range []string{"- ", "* ", "• "} {
			if strings.HasPrefix(line, p) {
				bullets = append(bullets, strings.TrimSpace(line[len(p):]))
				break
			}
		}
	}
	bullets = clean(bullets)
	if len(bullets) == 0 {
		return nil, nil, errors.New("summary: unparseable model reply")
	}
	return bullets, nil, nil
}

func clean(items []string) []string {
	var out []string
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
