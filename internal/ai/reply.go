// Package ai generates the automated policy-information replies. The prompt
// is bounded to the single deal's facts: no other client's data ever reaches
// the model, and the caller (not the model) enforces the SMS length cap.
package ai

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"covertext/internal/telemetry"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// SMSMaxRunes is the cap applied to every automated outbound body.
const SMSMaxRunes = 320

const systemPromptTemplate = `You are an SMS assistant for a licensed insurance agent. Answer the client's question using ONLY the policy facts below. If the facts do not contain the answer, say the agent will follow up. Never give advice, never discuss claims or policy changes, never mention information that is not listed. Keep the answer under 300 characters, plain text, no markdown.

Policy facts:
%s`

// ReplyService wraps the LLM client behind the single bounded-prompt call the
// webhook handler needs.
type ReplyService struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewReplyService creates a reply service with an injected API key. The
// timeout bounds every generation call.
func NewReplyService(apiKey string, timeout time.Duration) *ReplyService {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	config := openai.DefaultConfig(apiKey)
	return &ReplyService{
		client:  openai.NewClientWithConfig(config),
		model:   openai.GPT4oMini,
		timeout: timeout,
	}
}

// GenerateReply produces an SMS-sized answer to a deal-related question.
// Facts with empty values are dropped from the prompt. Any failure or timeout
// is returned to the caller, which escalates to a human instead of sending a
// degraded reply.
func (s *ReplyService) GenerateReply(ctx context.Context, question string, facts map[string]string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	status := "ok"
	defer func() {
		telemetry.LLMLatency.WithLabelValues(s.model, status).Observe(time.Since(start).Seconds())
	}()

	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf(systemPromptTemplate, renderFacts(facts)),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: question,
			},
		},
		MaxCompletionTokens: 200,
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		status = "error"
		log.Error().Err(err).Msg("LLM reply generation failed")
		return "", fmt.Errorf("reply generation failed: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		status = "empty"
		return "", fmt.Errorf("reply generation returned no content")
	}

	return BoundSMS(resp.Choices[0].Message.Content), nil
}

// renderFacts flattens the populated deal facts into stable prompt lines.
func renderFacts(facts map[string]string) string {
	keys := make([]string, 0, len(facts))
	for k, v := range facts {
		if strings.TrimSpace(v) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", strings.ReplaceAll(k, "_", " "), facts[k])
	}
	if b.Len() == 0 {
		return "- (none)"
	}
	return strings.TrimRight(b.String(), "\n")
}

var (
	italicRE  = regexp.MustCompile(`\*([^\s*][^*]*[^\s*])\*`)
	bulletRE  = regexp.MustCompile(`(?m)^[\s]*[-•]\s+`)
	numListRE = regexp.MustCompile(`(?m)^[\s]*\d+\.\s+`)
	spacesRE  = regexp.MustCompile(`\s{2,}`)
)

// BoundSMS strips markdown that does not render in SMS and truncates the
// result to SMSMaxRunes, appending an ellipsis when anything was cut.
func BoundSMS(text string) string {
	text = strings.ReplaceAll(text, "**", "")
	text = italicRE.ReplaceAllString(text, "$1")
	text = bulletRE.ReplaceAllString(text, "")
	text = numListRE.ReplaceAllString(text, "")
	text = strings.TrimSpace(spacesRE.ReplaceAllString(text, " "))

	runes := []rune(text)
	if len(runes) <= SMSMaxRunes {
		return text
	}
	return string(runes[:SMSMaxRunes-1]) + "…"
}
