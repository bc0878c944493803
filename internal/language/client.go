// Package language talks to a chat-completion service to translate chunk
// transcripts and summarize the cumulative transcript.
package language

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/obiente/translate/relay/internal/metrics"
)

const systemPrompt = "You are a translator expert."

// ErrNoResult is returned once every attempt has failed. Callers must treat
// it as a failed translation, never as an empty one.
var ErrNoResult = errors.New("language: no result after retries")

var errEmptyCompletion = errors.New("empty completion")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer sends one chat-completion request.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

type Options struct {
	// MaxAttempts counts the first try; zero means 5.
	MaxAttempts int
	RetryDelay  time.Duration
	// Timeout bounds each attempt; zero disables it.
	Timeout time.Duration
	// RateLimit caps attempts per second across all sessions; zero disables it.
	RateLimit float64
	Metrics   *metrics.Metrics
}

type Client struct {
	completer   Completer
	maxAttempts int
	retryDelay  time.Duration
	timeout     time.Duration
	limiter     *rate.Limiter
	metrics     *metrics.Metrics
}

func NewClient(c Completer, opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	cl := &Client{
		completer:   c,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		timeout:     opts.Timeout,
		metrics:     opts.Metrics,
	}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		cl.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return cl
}

// Translate asks the model to translate text between two registered
// languages. Unknown codes fail before any request is made. The returned text
// is not trimmed.
func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	src, err := Lookup(sourceLang)
	if err != nil {
		return "", err
	}
	dst, err := Lookup(targetLang)
	if err != nil {
		return "", err
	}
	messages := []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf("Translate this text from %s to %s, only return the translated text : %s", src, dst, text)},
	}
	return c.invoke(ctx, "translate", messages)
}

// Summarize asks the model for a two-sentence summary of text.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	messages := []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf("Summarize the following text into two sentences : %s, only return the summary text", text)},
	}
	return c.invoke(ctx, "summarize", messages)
}

func (c *Client) invoke(ctx context.Context, op string, messages []Message) (string, error) {
	attempt := 0
	for attempt < c.maxAttempts {
		attempt++

		text, err := c.attempt(ctx, messages)
		if err == nil {
			c.countAttempt("ok")
			return text, nil
		}
		c.countAttempt("error")
		log.Error().Err(err).Str("op", op).Int("attempt", attempt).Int("max_attempts", c.maxAttempts).Msg("language: completion failed")

		if attempt >= c.maxAttempts {
			break
		}
		select {
		case <-time.After(c.retryDelay):
		case <-ctx.Done():
			c.countExhausted()
			return "", fmt.Errorf("%w: %v", ErrNoResult, ctx.Err())
		}
	}
	c.countExhausted()
	log.Warn().Str("op", op).Int("attempts", attempt).Msg("language: giving up")
	return "", ErrNoResult
}

func (c *Client) attempt(ctx context.Context, messages []Message) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit: %w", err)
		}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	text, err := c.completer.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", errEmptyCompletion
	}
	return text, nil
}

func (c *Client) countAttempt(result string) {
	if c.metrics != nil {
		c.metrics.LanguageAttempts.WithLabelValues(result).Inc()
	}
}

func (c *Client) countExhausted() {
	if c.metrics != nil {
		c.metrics.LanguageExhausted.Inc()
	}
}
