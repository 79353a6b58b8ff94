package llm

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"

	"github.com/AI-driven-ST-Foundation/agent/logger"
	"github.com/AI-driven-ST-Foundation/agent/model"
)

const (
	defaultMaxRetries     = 3
	initialBackoff        = 1 * time.Second
	maxBackoff            = 60 * time.Second
	retryAfterBuffer      = 2 * time.Second
	significantThrottle   = 10 * time.Millisecond
	retryAfterFreshWindow = 5 * time.Second
)

var retryAfterPattern = regexp.MustCompile(`(?i)retry after (\d+) seconds?`)

// Throttle applies per-provider TPM/RPM limits before a request and, when
// enabled, a bounded retry on 429 responses. Limits are best effort: token
// counts are estimated before the call and corrected after it.
type Throttle struct {
	tpm        *rate.Limiter
	rpm        *rate.Limiter
	retryOn429 bool
	maxRetries int
	backoff    time.Duration
	retryAfter RetryAfterProvider

	mu    sync.Mutex
	stats model.RateLimitStats
}

func NewThrottle(limits model.RateLimitConfig, retry model.RetryConfig) *Throttle {
	t := &Throttle{retryOn429: retry.RetryOn429, maxRetries: retry.MaxRetries, backoff: initialBackoff}
	if t.retryOn429 && t.maxRetries <= 0 {
		t.maxRetries = defaultMaxRetries
	}
	if limits.TPM > 0 {
		t.tpm = rate.NewLimiter(rate.Limit(float64(limits.TPM)/60.0), limits.TPM)
		logger.Logger.Info("Rate limiter configured", "type", "TPM", "limit", limits.TPM)
	}
	if limits.RPM > 0 {
		t.rpm = rate.NewLimiter(rate.Limit(float64(limits.RPM)/60.0), limits.RPM)
		logger.Logger.Info("Rate limiter configured", "type", "RPM", "limit", limits.RPM)
	}
	if t.retryOn429 {
		logger.Logger.Info("429 retry handling enabled", "max_retries", t.maxRetries)
	}
	return t
}

// NeedsThrottle reports whether a provider config asks for limiting or retries.
func NeedsThrottle(limits model.RateLimitConfig, retry model.RetryConfig) bool {
	return limits.TPM > 0 || limits.RPM > 0 || retry.RetryOn429
}

// SetRetryAfterProvider links the HTTP client that captures Retry-After headers.
func (t *Throttle) SetRetryAfterProvider(p RetryAfterProvider) {
	t.retryAfter = p
}

// Do waits for capacity, runs call and retries it on rate limit errors.
// call returns the actual token count of a successful request.
func (t *Throttle) Do(ctx context.Context, estimated int, call func() (int, error)) error {
	if err := t.wait(ctx, t.rpm, 1); err != nil {
		return err
	}
	if estimated > 0 {
		if err := t.wait(ctx, t.tpm, min(estimated, t.burst())); err != nil {
			return err
		}
	}

	actual, err := call()
	if err == nil {
		t.settle(estimated, actual)
		return nil
	}
	if !isRateLimitError(err) {
		return err
	}
	t.record(func(s *model.RateLimitStats) { s.RateLimitHits++ })
	if !t.retryOn429 {
		return err
	}

	backoff := t.backoff
	for attempt := 1; attempt <= t.maxRetries; attempt++ {
		hinted := t.retryDelay(err)
		if hinted > 0 {
			backoff = hinted
		}
		backoff = min(backoff, maxBackoff)

		logger.Logger.Warn("429 rate limit hit, retrying",
			"attempt", attempt,
			"max_retries", t.maxRetries,
			"wait_seconds", backoff.Seconds(),
			"error", err)

		waited := time.Now()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		t.record(func(s *model.RateLimitStats) {
			s.RetryCount++
			s.RetryWaitTimeMs += time.Since(waited).Milliseconds()
		})

		actual, err = call()
		if err == nil {
			logger.Logger.Info("Request succeeded after 429 retry", "attempt", attempt)
			t.record(func(s *model.RateLimitStats) { s.RetrySuccessCount++ })
			t.settle(estimated, actual)
			return nil
		}
		if !isRateLimitError(err) {
			return err
		}
		t.record(func(s *model.RateLimitStats) { s.RateLimitHits++ })
		if hinted == 0 {
			backoff *= 2
		}
	}

	logger.Logger.Error("429 retries exhausted", "max_retries", t.maxRetries, "error", err)
	return err
}

func (t *Throttle) burst() int {
	if t.tpm == nil {
		return 0
	}
	return t.tpm.Burst()
}

func (t *Throttle) wait(ctx context.Context, l *rate.Limiter, n int) error {
	if l == nil {
		return nil
	}
	start := time.Now()
	if err := l.WaitN(ctx, n); err != nil {
		return err
	}
	if waited := time.Since(start); waited > significantThrottle {
		t.record(func(s *model.RateLimitStats) {
			s.ThrottleCount++
			s.ThrottleWaitTimeMs += waited.Milliseconds()
		})
	}
	return nil
}

// settle charges the TPM bucket for tokens the estimate missed.
func (t *Throttle) settle(estimated, actual int) {
	if t.tpm == nil || actual <= estimated {
		return
	}
	r := t.tpm.ReserveN(time.Now(), actual-estimated)
	logger.Logger.Debug("Reserved additional tokens",
		"estimated", estimated,
		"actual", actual,
		"ok", r.OK(),
		"delay", r.Delay())
}

func (t *Throttle) retryDelay(err error) time.Duration {
	if t.retryAfter != nil {
		if d, at := t.retryAfter.GetLastRetryAfter(); d > 0 && time.Since(at) < retryAfterFreshWindow {
			t.retryAfter.ClearRetryAfter()
			return d + retryAfterBuffer
		}
	}
	if m := retryAfterPattern.FindStringSubmatch(err.Error()); len(m) == 2 {
		if secs, convErr := strconv.Atoi(m[1]); convErr == nil && secs > 0 {
			return time.Duration(secs)*time.Second + retryAfterBuffer
		}
	}
	return 0
}

func (t *Throttle) record(fn func(*model.RateLimitStats)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.stats)
}

// Stats returns a snapshot of the counters.
func (t *Throttle) Stats() model.RateLimitStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
}

// ============================================================================
// WRAPPERS
// ============================================================================

// RateLimitedLLM is an llms.Model that routes calls through a Throttle.
type RateLimitedLLM struct {
	wrapped   llms.Model
	throttle  *Throttle
	modelName string
}

func NewRateLimitedLLM(wrapped llms.Model, throttle *Throttle, modelName string) *RateLimitedLLM {
	return &RateLimitedLLM{wrapped: wrapped, throttle: throttle, modelName: modelName}
}

func (rl *RateLimitedLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var resp *llms.ContentResponse
	err := rl.throttle.Do(ctx, budgetTokens(rl.modelName, lcText(messages)), func() (int, error) {
		r, err := rl.wrapped.GenerateContent(ctx, messages, options...)
		if err != nil {
			return 0, err
		}
		resp = r
		if r == nil || len(r.Choices) == 0 {
			return 0, nil
		}
		p, c, total := usageFromInfo(r.Choices[0].GenerationInfo)
		if total == 0 {
			total = p + c
		}
		return total, nil
	})
	return resp, err
}

func (rl *RateLimitedLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, rl, prompt, options...)
}

func (rl *RateLimitedLLM) Stats() model.RateLimitStats {
	return rl.throttle.Stats()
}

// throttledCompleter applies a Throttle to a go-openai client.
type throttledCompleter struct {
	wrapped   ChatCompleter
	throttle  *Throttle
	modelName string
}

func (tc *throttledCompleter) CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error) {
	var text string
	for _, m := range req.Messages {
		text += m.Content
		for _, p := range m.MultiContent {
			text += p.Text
		}
	}

	var resp goopenai.ChatCompletionResponse
	err := tc.throttle.Do(ctx, budgetTokens(tc.modelName, text), func() (int, error) {
		r, err := tc.wrapped.CreateChatCompletion(ctx, req)
		if err != nil {
			return 0, err
		}
		resp = r
		return r.Usage.TotalTokens, nil
	})
	return resp, err
}

// budgetTokens estimates a request's TPM cost: prompt tokens plus half
// again for the completion, with a 50% margin on top.
func budgetTokens(modelName, text string) int {
	if text == "" {
		return 0
	}
	var input int
	if tkm, err := tiktoken.EncodingForModel(modelName); err == nil {
		input = len(tkm.Encode(text, nil, nil))
	} else {
		input = max(len(text)/4, 1)
	}
	total := input + input/2
	return total + total/2
}

func lcText(messages []llms.MessageContent) string {
	var sb strings.Builder
	for _, m := range messages {
		for _, part := range m.Parts {
			if tp, ok := part.(llms.TextContent); ok {
				sb.WriteString(tp.Text)
			}
		}
	}
	return sb.String()
}
