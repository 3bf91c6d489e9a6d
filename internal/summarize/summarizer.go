package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"tldread/internal/core"
	"tldread/internal/llm"
	"tldread/internal/logger"
	"tldread/internal/retry"
)

// MaxContentChars caps the newsletter content embedded in a prompt.
const MaxContentChars = 12000

const truncationMarker = "\n\n[Content truncated...]"

const maxNotableLinks = 3

// ErrMalformedResponse marks a service response that could not be parsed as
// the expected JSON object. Parse failures are terminal for the message and
// are never retried.
var ErrMalformedResponse = errors.New("malformed model response")

// TextGenerator is the single call the orchestrator needs from the model
// service.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// MessageMeta carries per-message metadata into the summarization prompt.
type MessageMeta struct {
	SenderName  string
	SenderEmail string
	Subject     string
	ReceivedAt  time.Time
}

// Options tune retry behavior. Tests shrink the backoff to keep runs fast.
type Options struct {
	MaxAttempts int
	Backoff     time.Duration
	Sleep       func(time.Duration)
}

// DefaultOptions matches production behavior: three attempts with 2s, 4s
// waits between them.
func DefaultOptions() Options {
	return Options{MaxAttempts: 3, Backoff: time.Second}
}

// Summarizer turns normalized newsletter content into structured summaries
// and groups of summaries into a clustered digest narrative.
type Summarizer struct {
	client    TextGenerator
	interests []string
	policy    retry.Policy
}

// New creates a Summarizer. interests personalize the importance scoring and
// may be empty.
func New(client TextGenerator, interests []string, opts Options) *Summarizer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	return &Summarizer{
		client:    client,
		interests: interests,
		policy: retry.Policy{
			MaxAttempts: opts.MaxAttempts,
			Base:        opts.Backoff,
			Retryable:   llm.IsRetryable,
			Sleep:       opts.Sleep,
		},
	}
}

// Summarize produces a structured summary for one newsletter. Transient
// service failures are retried per the policy; a response that parses but
// deviates from the schema field-by-field falls back to per-field defaults,
// while a response that is not a JSON object at all returns
// ErrMalformedResponse.
func (s *Summarizer) Summarize(ctx context.Context, content string, meta MessageMeta) (core.SummaryResult, error) {
	content = truncate(content)

	prompt := fmt.Sprintf(summarizePromptTemplate,
		meta.SenderName,
		meta.SenderEmail,
		meta.Subject,
		meta.ReceivedAt.Format("2006-01-02"),
		content,
		interestList(s.interests),
	)

	raw, err := s.generate(ctx, prompt)
	if err != nil {
		return core.SummaryResult{}, fmt.Errorf("summarize %q: %w", meta.Subject, err)
	}

	result, err := parseSummary(raw)
	if err != nil {
		return core.SummaryResult{}, fmt.Errorf("summarize %q: %w", meta.Subject, err)
	}
	return result, nil
}

func (s *Summarizer) generate(ctx context.Context, prompt string) (string, error) {
	var raw string
	err := s.policy.Do(ctx, func() error {
		var genErr error
		raw, genErr = s.client.GenerateText(ctx, prompt)
		if genErr != nil {
			logger.Warnf("model call failed, may retry: %v", genErr)
		}
		return genErr
	})
	return raw, err
}

// parseSummary decodes the service response defensively: missing or
// mistyped fields fall back to defaults rather than failing the message.
func parseSummary(raw string) (core.SummaryResult, error) {
	fields, err := topLevelFields(raw)
	if err != nil {
		return core.SummaryResult{}, err
	}

	var result core.SummaryResult
	decodeField(fields, "context", &result.Context)
	decodeField(fields, "key_points", &result.KeyPoints)
	decodeField(fields, "entities", &result.Entities)
	decodeField(fields, "topic_tags", &result.TopicTags)
	decodeField(fields, "notable_links", &result.NotableLinks)
	decodeField(fields, "importance_score", &result.ImportanceScore)
	decodeField(fields, "one_line_summary", &result.OneLineSummary)

	if result.ImportanceScore < 1 || result.ImportanceScore > 10 {
		result.ImportanceScore = 5
	}
	if len(result.NotableLinks) > maxNotableLinks {
		result.NotableLinks = result.NotableLinks[:maxNotableLinks]
	}
	return result, nil
}

// topLevelFields strips any code fence and splits the response into raw
// top-level JSON fields.
func topLevelFields(raw string) (map[string]json.RawMessage, error) {
	cleaned := stripCodeFence(raw)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return fields, nil
}

// decodeField decodes one field if present, leaving dst untouched when the
// field is absent or of the wrong shape.
func decodeField[T any](fields map[string]json.RawMessage, key string, dst *T) {
	v, ok := fields[key]
	if !ok {
		return
	}
	if err := json.Unmarshal(v, dst); err != nil {
		logger.Debugf("ignoring malformed field %q: %v", key, err)
	}
}

var codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?\\s*```")

// stripCodeFence unwraps a ```json ... ``` fence if the model added one.
func stripCodeFence(text string) string {
	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

func truncate(content string) string {
	if len(content) <= MaxContentChars {
		return content
	}
	// Back off to a rune boundary so the cut never leaves invalid UTF-8 in
	// the prompt.
	cut := MaxContentChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + truncationMarker
}

func interestList(interests []string) string {
	if len(interests) == 0 {
		return "(none specified)"
	}
	var b strings.Builder
	for _, interest := range interests {
		b.WriteString("- ")
		b.WriteString(interest)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
