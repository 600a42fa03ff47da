package enrich

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pbaille/postkeep/internal/domain"
)

const systemPrompt = `You extract structured data from LinkedIn posts into JSON.

Return this exact shape:
{"topic":"...","tags":["..."],"summary":"...","sentiment":"...","keywords":["..."]}

Fields:

1. "topic": ONE from: Technology, Business, Career, Leadership, Marketing, Finance, Entrepreneurship, Education, Health, AI & Machine Learning, Personal Development, Industry News, Sustainability, Design, Engineering, Science.

2. "tags": 3-6 lowercase hyphenated labels (e.g. "remote-work", "series-a", "open-source").

3. "summary": One short sentence (~20 words), third person. Start with "The author ..." or "A post about ...".

4. "sentiment": ONE of: educational, inspirational, controversial, promotional, hiring, opinion, news, personal_story.

5. "keywords": 4-7 important nouns/phrases from the post (lowercase).

Example:
Input: "Just raised our Series A! $12M to build the future of developer tools. Grateful to our investors and the amazing team."
Output: {"topic":"Entrepreneurship","tags":["fundraising","series-a","developer-tools","startup"],"summary":"The author announces a $12M Series A raise for a developer tools startup.","sentiment":"promotional","keywords":["series a","developer tools","investors","fundraising"]}`

// Config tunes how hard the client tries before falling back.
type Config struct {
	MaxInput   int           // characters of post text sent to the model
	MinInput   int           // shorter texts skip the model
	Timeout    time.Duration // per attempt
	Retries    int           // extra attempts after the first
	RetryDelay time.Duration // multiplied by the attempt number
}

// DefaultConfig returns the budget for a metered or a local provider.
// Metered deployments get one fast attempt; local models get patience.
func DefaultConfig(metered bool) Config {
	if metered {
		return Config{MaxInput: 1500, MinInput: 20, Timeout: 8 * time.Second, Retries: 0, RetryDelay: 500 * time.Millisecond}
	}
	return Config{MaxInput: 1500, MinInput: 20, Timeout: 30 * time.Second, Retries: 2, RetryDelay: 200 * time.Millisecond}
}

// Client analyzes post text with a model provider and rule-based fallback.
type Client struct {
	provider Provider
	cfg      Config
	log      *zap.Logger
	sleep    func(context.Context, time.Duration)
}

// NewClient creates a client. A nil provider makes every call use the fallback.
func NewClient(p Provider, log *zap.Logger) *Client {
	metered := p != nil && p.Metered()
	return NewClientWithConfig(p, DefaultConfig(metered), log)
}

// NewClientWithConfig creates a client with an explicit budget.
func NewClientWithConfig(p Provider, cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{provider: p, cfg: cfg, log: log, sleep: sleepCtx}
}

// Provider returns the name of the configured provider, or "fallback".
func (c *Client) Provider() string {
	if c.provider == nil {
		return "fallback"
	}
	return c.provider.Name()
}

// Analyze returns metadata for text. It never fails: provider errors,
// timeouts, over-quota answers and unusable output all end in Fallback.
func (c *Client) Analyze(ctx context.Context, text string) domain.Analysis {
	input := truncate(text, c.cfg.MaxInput)
	if c.provider == nil || len([]rune(strings.TrimSpace(input))) < c.cfg.MinInput {
		return Fallback(text)
	}

	req := Request{
		System:      systemPrompt,
		Prompt:      "Analyze this LinkedIn post and return ONLY the JSON object, nothing else:\n\n" + input,
		JSON:        true,
		Temperature: 0.2,
		MaxTokens:   300,
		TopP:        0.9,
	}

	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		raw, err := c.provider.Generate(callCtx, req)
		cancel()

		if err != nil {
			if IsOverQuota(err) {
				// waiting will not help within this request
				c.log.Warn("enrich: provider over quota, using fallback",
					zap.String("provider", c.provider.Name()), zap.Error(err))
				return Fallback(text)
			}
			c.log.Warn("enrich: attempt failed",
				zap.Int("attempt", attempt+1), zap.String("provider", c.provider.Name()), zap.Error(err))
			if ctx.Err() != nil {
				break
			}
			if attempt < c.cfg.Retries {
				c.sleep(ctx, c.cfg.RetryDelay*time.Duration(attempt+1))
			}
			continue
		}

		parsed, ok := extractJSON(raw)
		if !ok {
			c.log.Warn("enrich: unparseable output",
				zap.Int("attempt", attempt+1), zap.String("raw", truncate(raw, 120)))
			continue
		}

		a := clean(parsed)
		if useful(a) {
			a.Source = "model"
			return a
		}
		c.log.Warn("enrich: sparse output", zap.Int("attempt", attempt+1))
	}

	c.log.Info("enrich: all attempts failed, using fallback")
	return Fallback(text)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
