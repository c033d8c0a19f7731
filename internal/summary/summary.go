// Package summary condenses free-text status fields into a short line for
// reports.
package summary

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sells-group/datemover/pkg/anthropic"
)

// Sources reported on a Summary.
const (
	SourceRules = "rules"
	SourceModel = "model"
)

const (
	defaultMaxLength = 200
	ellipsis         = "..."
)

var boilerplatePrefixes = []string{"Status:", "Update:", "Note:", "Comment:"}

// Summary is a condensed status text.
type Summary struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// Summarizer condenses text. An empty input gives an empty Summary.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (Summary, error)
}

// Rules summarizes without any external call: boilerplate prefixes are
// dropped, whitespace collapsed, and long text cut to its first sentence or,
// failing that, to a word boundary.
type Rules struct {
	MaxLength int
}

// Summarize implements Summarizer.
func (r Rules) Summarize(_ context.Context, text string) (Summary, error) {
	out := r.condense(text)
	if out == "" {
		return Summary{}, nil
	}
	return Summary{Text: out, Source: SourceRules}, nil
}

func (r Rules) condense(text string) string {
	max := r.MaxLength
	if max <= 0 {
		max = defaultMaxLength
	}

	text = stripBoilerplate(strings.TrimSpace(text))
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= max {
		return text
	}

	if first, _, ok := strings.Cut(text, ". "); ok && utf8.RuneCountInString(first)+1 <= max {
		return first + "."
	}
	return truncateWords(text, max)
}

func stripBoilerplate(text string) string {
	for _, p := range boilerplatePrefixes {
		if strings.HasPrefix(text, p) {
			text = strings.TrimSpace(text[len(p):])
		}
	}
	return text
}

// truncateWords cuts text to at most max runes including the ellipsis,
// backing up to the last space when there is one.
func truncateWords(text string, max int) string {
	limit := max - len(ellipsis)
	if limit < 1 {
		limit = 1
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	cut := string(runes[:limit])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:") + ellipsis
}

// ModelConfig configures Model.
type ModelConfig struct {
	Model     string
	MaxTokens int64
	MaxLength int
}

// Model asks a language model for an executive summary and falls back to
// Rules when the call fails or returns nothing.
type Model struct {
	client   anthropic.Client
	cfg      ModelConfig
	fallback Rules
}

const systemPrompt = "You condense project status updates for executives. " +
	"Reply with one plain sentence stating progress and the main risk, if any. " +
	"No preamble, no markdown."

// NewModel creates a Model summarizer.
func NewModel(client anthropic.Client, cfg ModelConfig) *Model {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	return &Model{client: client, cfg: cfg, fallback: Rules{MaxLength: cfg.MaxLength}}
}

// Summarize implements Summarizer. Model failures are logged and answered by
// the rule-based fallback, so the error is always nil unless ctx ended.
func (m *Model) Summarize(ctx context.Context, text string) (Summary, error) {
	cleaned := strings.TrimSpace(stripBoilerplate(strings.TrimSpace(text)))
	if cleaned == "" {
		return Summary{}, nil
	}

	temp := 0.0
	resp, err := m.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       m.cfg.Model,
		MaxTokens:   m.cfg.MaxTokens,
		System:      systemPrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: cleaned}},
		Temperature: &temp,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Summary{}, ctx.Err()
		}
		zap.L().Warn("summary: model call failed, using rules", zap.Error(err))
		return m.fallback.Summarize(ctx, text)
	}
	resp.Usage.Log(m.cfg.Model, "status_summary")

	out := resp.Text()
	if out == "" {
		zap.L().Warn("summary: model returned no text, using rules", zap.String("stop_reason", resp.StopReason))
		return m.fallback.Summarize(ctx, text)
	}
	if m.cfg.MaxLength > 0 && utf8.RuneCountInString(out) > m.cfg.MaxLength {
		out = truncateWords(out, m.cfg.MaxLength)
	}
	return Summary{Text: out, Source: SourceModel}, nil
}
