// Package ranking asks an OpenRouter-compatible model service to order
// unanswered conversations by urgency.
package ranking

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/matheus3301/replywatch/internal/detect"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// RankedItem is one conversation with its urgency assessment. Ranked is
// false for conversations the model omitted; they are appended in detection
// order so the caller never loses a conversation it asked about.
type RankedItem struct {
	ChatID          string
	ChatName        string
	IsGroup         bool
	Score           int
	Rationale       string
	Preview         string
	UnansweredSince int64
	Ranked          bool
}

// Options configures the ranking adapter. The model identifier is an opaque
// string passed through to the service.
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxAttempts int
}

// Ranker calls the external ranking service with one batched prompt per run.
type Ranker struct {
	client      *openai.Client
	model       string
	maxAttempts int
	callTimeout time.Duration
	backoffBase time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// New creates a ranking adapter against an OpenAI-compatible endpoint.
func New(opts Options, logger *zap.Logger) *Ranker {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Ranker{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		maxAttempts: opts.MaxAttempts,
		callTimeout: opts.Timeout,
		backoffBase: 500 * time.Millisecond,
		logger:      logger,
		now:         time.Now,
	}
}

// Rank orders conversations by urgency. The result always contains exactly
// the input conversations: unknown ids in the response are dropped with a
// warning, omitted ones are appended unranked. On error the caller should
// fall back to Fallback ordering.
func (r *Ranker) Rank(ctx context.Context, convs []detect.Conversation) ([]RankedItem, error) {
	if len(convs) == 0 {
		return nil, nil
	}

	prompt := buildPrompt(convs, r.now())
	r.logger.Info("requesting ranking", zap.Int("conversations", len(convs)), zap.String("model", r.model))

	content, rerr := r.completeWithRetry(ctx, prompt)
	if rerr != nil {
		return nil, rerr
	}

	resp, err := parseResponse(content)
	if err != nil {
		r.logger.Warn("malformed ranking response", zap.Error(err))
		return nil, &Error{Kind: KindMalformedResponse, Err: err}
	}
	if resp.Summary != "" {
		r.logger.Info("ranking summary", zap.String("summary", resp.Summary))
	}

	return r.reconcile(convs, resp.Ranked), nil
}

func (r *Ranker) completeWithRetry(ctx context.Context, prompt string) (string, *Error) {
	backoff := r.backoffBase
	for attempt := 1; ; attempt++ {
		content, err := r.complete(ctx, prompt)
		if err == nil {
			return content, nil
		}

		rerr := classify(err)
		if !rerr.Retryable() || attempt >= r.maxAttempts {
			return "", rerr
		}

		// Exponential backoff with jitter so retries do not align with
		// other clients hitting the same rate limit.
		delay := backoff
		if half := int64(backoff / 2); half > 0 {
			delay += time.Duration(rand.Int63n(half))
		}
		r.logger.Warn("ranking call failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", &Error{Kind: KindTimeout, Err: ctx.Err()}
		}
		backoff *= 2
	}
}

func (r *Ranker) complete(ctx context.Context, prompt string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	resp, err := r.client.CreateChatCompletion(cctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.1,
		MaxTokens:   4000,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// reconcile maps response entries back onto the input conversations,
// enforcing the never-drop invariant.
func (r *Ranker) reconcile(convs []detect.Conversation, entries []responseEntry) []RankedItem {
	byChat := make(map[string]detect.Conversation, len(convs))
	for _, c := range convs {
		byChat[c.ChatID] = c
	}

	seen := make(map[string]bool, len(entries))
	items := make([]RankedItem, 0, len(convs))
	for _, e := range entries {
		c, ok := byChat[e.ChatID]
		if !ok {
			r.logger.Warn("ranking returned unknown chat id, dropping entry", zap.String("chat_id", e.ChatID))
			continue
		}
		if seen[e.ChatID] {
			r.logger.Warn("duplicate chat id in ranking response, keeping first", zap.String("chat_id", e.ChatID))
			continue
		}
		seen[e.ChatID] = true
		item := unrankedItem(c)
		item.Score = clampScore(e.Urgency)
		item.Rationale = e.Reason
		item.Ranked = true
		items = append(items, item)
	}

	// Descending urgency; the most recent unanswered_since wins a tie.
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].UnansweredSince > items[j].UnansweredSince
	})

	// Fail open: conversations the model skipped keep their detection order
	// at the end of the report.
	for _, c := range convs {
		if !seen[c.ChatID] {
			r.logger.Warn("conversation omitted from ranking response, appending", zap.String("chat_id", c.ChatID))
			items = append(items, unrankedItem(c))
		}
	}
	return items
}

// Fallback returns deterministic unranked items in detection order. Used
// when the ranking service is unavailable.
func Fallback(convs []detect.Conversation) []RankedItem {
	items := make([]RankedItem, 0, len(convs))
	for _, c := range convs {
		items = append(items, unrankedItem(c))
	}
	return items
}

func unrankedItem(c detect.Conversation) RankedItem {
	return RankedItem{
		ChatID:          c.ChatID,
		ChatName:        c.ChatName,
		IsGroup:         c.IsGroup,
		Preview:         c.Preview,
		UnansweredSince: c.UnansweredSince,
	}
}
