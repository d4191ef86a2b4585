package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sandevgo/recap/internal/cache"
	"github.com/sandevgo/recap/internal/config"
	"github.com/sandevgo/recap/internal/core"
	"github.com/sandevgo/recap/internal/tokenizer"
	"github.com/sandevgo/recap/pkg/log"
)

// draftContextTokens bounds how much conversation history is handed to the
// drafting model.
const draftContextTokens = 6000

var (
	speakerRe  = regexp.MustCompile(`(?m)^(.+?): `)
	meetingRe  = regexp.MustCompile(`(?i)\b(meeting|call|appointment)\s+on\s+(\d{4}-\d{2}-\d{2})(?:\s+at\s+(\d{1,2}:\d{2}))?`)
	deadlineRe = regexp.MustCompile(`(?i)(?:deadline|due)\s+(?:by|on)\s+(\d{4}-\d{2}-\d{2})`)
)

const summarySystemPrompt = `You summarize group chat conversations. Write a concise summary that preserves decisions, commitments, dates and open questions. Refer to participants by name. Do not invent information that is not in the conversation.`

const draftSystemPromptFmt = `You write chat messages on behalf of %s. Match the tone, length and phrasing style that %s uses in the conversation history. Reply with the message text only, no quotes and no explanations.`

// Summarizer generates conversation summaries and drafts replies on top of
// the retrieval pipeline. Summaries are cached against the chunk-set
// fingerprint; whole-conversation summaries are also stored durably.
type Summarizer struct {
	contexts  *ContextService
	summaries core.SummaryRepository
	summarize core.Completer
	draft     core.Completer
	cache     *cache.Cache
	cfg       *config.RetrievalConfig
}

func NewSummarizer(
	contexts *ContextService,
	summaries core.SummaryRepository,
	summarize core.Completer,
	draft core.Completer,
	c *cache.Cache,
	cfg *config.RetrievalConfig,
) *Summarizer {
	return &Summarizer{
		contexts:  contexts,
		summaries: summaries,
		summarize: summarize,
		draft:     draft,
		cache:     c,
		cfg:       cfg,
	}
}

// GetOrCreateSummary returns a summary of the conversation, optionally focused
// on a query. The second return reports whether it came from cache.
func (s *Summarizer) GetOrCreateSummary(ctx context.Context, conversationID, query string, forceRefresh bool) (core.Summary, bool, error) {
	res, err := s.contexts.GetContext(ctx, conversationID, query, forceRefresh)
	if err != nil {
		return core.Summary{}, false, err
	}

	key := summaryCacheKey(conversationID, query, res.Fingerprint)
	if !forceRefresh {
		if cached, ok := s.cache.Get(key); ok {
			return core.Summary{
				ConversationID:    conversationID,
				Query:             query,
				Content:           cached,
				TokenCount:        tokenizer.Count(cached),
				SourceFingerprint: res.Fingerprint,
			}, true, nil
		}

		// Whole-conversation summaries survive restarts; reuse the stored one
		// as long as it was built from the same chunk set.
		if query == "" {
			stored, err := s.summaries.GetLatestSummary(ctx, conversationID)
			if err != nil {
				return core.Summary{}, false, err
			}
			if stored != nil && stored.SourceFingerprint == res.Fingerprint {
				s.cache.Put(key, stored.Content, s.cfg.CacheTTL())
				return *stored, true, nil
			}
		}
	}

	if res.Context == "" {
		return core.Summary{
			ConversationID:    conversationID,
			Query:             query,
			SourceFingerprint: res.Fingerprint,
		}, false, nil
	}

	content, err := s.compose(ctx, res.Context, query)
	if err != nil {
		return core.Summary{}, false, err
	}

	summary := core.Summary{
		ConversationID:    conversationID,
		Query:             query,
		Content:           content,
		TokenCount:        tokenizer.Count(content),
		SourceFingerprint: res.Fingerprint,
	}

	s.cache.Put(key, content, s.cfg.CacheTTL())

	if query == "" {
		if err := s.summaries.SaveSummary(ctx, summary); err != nil {
			log.FromCtx(ctx).Error().Err(err).
				Str("conversation_id", conversationID).
				Msg("failed to store summary")
		}
	}
	return summary, false, nil
}

// compose runs the extractive pass over the raw context and asks the model to
// refine it into prose. The extracted facts are handed to the model alongside
// the context so dates and counts survive paraphrasing.
func (s *Summarizer) compose(ctx context.Context, contextText, query string) (string, error) {
	facts := extractFacts(contextText)

	var b strings.Builder
	if query != "" {
		fmt.Fprintf(&b, "Focus on: %s\n\n", query)
	}
	if facts != "" {
		b.WriteString("Extracted facts:\n")
		b.WriteString(facts)
		b.WriteString("\n")
	}
	b.WriteString("Conversation:\n")
	b.WriteString(contextText)

	return s.summarize.Complete(ctx, summarySystemPrompt, b.String())
}

// DraftResponse writes a reply to message in asUser's voice, grounded on the
// parts of the conversation most relevant to the message.
func (s *Summarizer) DraftResponse(ctx context.Context, conversationID, asUser, message string) (string, error) {
	res, err := s.contexts.GetContext(ctx, conversationID, message, false)
	if err != nil {
		return "", err
	}
	return s.DraftFromText(ctx, res.Context, asUser, message)
}

// DraftFromText drafts against a raw conversation transcript without touching
// stored conversations. Used for one-shot requests.
func (s *Summarizer) DraftFromText(ctx context.Context, historyText, asUser, message string) (string, error) {
	history := tokenizer.Truncate(historyText, draftContextTokens)

	var b strings.Builder
	if history != "" {
		b.WriteString("Conversation history:\n")
		b.WriteString(history)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Write %s's reply to:\n%s", asUser, message)

	return s.draft.Complete(ctx, fmt.Sprintf(draftSystemPromptFmt, asUser, asUser), b.String())
}

// extractFacts pulls speaker activity and date-bound commitments out of the
// context with cheap pattern matching.
func extractFacts(text string) string {
	var b strings.Builder

	counts := make(map[string]int)
	var order []string
	for _, m := range speakerRe.FindAllStringSubmatch(text, -1) {
		name := m[1]
		if counts[name] == 0 {
			order = append(order, name)
		}
		counts[name]++
	}
	if len(order) > 0 {
		sort.Strings(order)
		parts := make([]string, 0, len(order))
		for _, name := range order {
			parts = append(parts, fmt.Sprintf("%s (%d)", name, counts[name]))
		}
		fmt.Fprintf(&b, "- Participants: %s\n", strings.Join(parts, ", "))
	}

	for _, m := range meetingRe.FindAllStringSubmatch(text, -1) {
		event := strings.ToLower(m[1])
		event = strings.ToUpper(event[:1]) + event[1:]
		if m[3] != "" {
			fmt.Fprintf(&b, "- %s on %s at %s\n", event, m[2], m[3])
		} else {
			fmt.Fprintf(&b, "- %s on %s\n", event, m[2])
		}
	}
	for _, m := range deadlineRe.FindAllStringSubmatch(text, -1) {
		fmt.Fprintf(&b, "- Deadline %s\n", m[1])
	}
	return b.String()
}

func summaryCacheKey(conversationID, query, fingerprint string) string {
	if query == "" {
		query = "-"
	}
	return fmt.Sprintf("conversation:%s:summary:%s:%s", conversationID, query, fingerprint)
}
