package privacy

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/go-resty/resty/v2"
	"github.com/raaihank/browser-sentinel/pkg/snapshot"
	"go.uber.org/zap"
)

const (
	defaultLLMTimeout = 30 * time.Second
	llmStatPrefix     = "llm_"
)

// Retry policy of the filter built by NewDefaultFilter.
var (
	defaultLLMRetries      = 2
	defaultLLMRetryWait    = 250 * time.Millisecond
	defaultLLMRetryMaxWait = 2 * time.Second
)

const llmSystemPrompt = `You detect personal and secret data in text shown to a browser agent.
Return only a JSON object of the form {"entities":[{"text":"<exact substring>","type":"<kind>"}]}.
Kinds are short lowercase words such as email, phone, name, address, account, secret.
Return {"entities":[]} when nothing is sensitive. Never return placeholders like [EMAIL_REDACTED].`

// LLMFilter asks an OpenAI-compatible chat completions endpoint to locate
// sensitive spans and replaces each with [<TYPE>_REDACTED].
type LLMFilter struct {
	client       *resty.Client
	model        string
	keepOriginal bool
	logStats     bool
	logger       *zap.Logger
}

// LLMOption configures an LLMFilter.
type LLMOption func(*LLMFilter)

// WithLLMModel sets the model name sent with each request.
func WithLLMModel(model string) LLMOption {
	return func(f *LLMFilter) { f.model = model }
}

// WithLLMAPIKey sends a bearer token.
func WithLLMAPIKey(key string) LLMOption {
	return func(f *LLMFilter) {
		if key != "" {
			f.client.SetAuthToken(key)
		}
	}
}

// WithLLMTimeout bounds each request.
func WithLLMTimeout(d time.Duration) LLMOption {
	return func(f *LLMFilter) { f.client.SetTimeout(d) }
}

// WithLLMRetry retries transport errors, 429 and 5xx responses with backoff.
func WithLLMRetry(count int, wait, maxWait time.Duration) LLMOption {
	return func(f *LLMFilter) {
		f.client.SetRetryCount(count).
			SetRetryWaitTime(wait).
			SetRetryMaxWaitTime(maxWait).
			AddRetryCondition(retryable)
	}
}

func retryable(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
}

// NewLLMFilter creates a filter against endpoint, e.g. http://localhost:8000/v1.
// Only KeepOriginal and LogStats are read from cfg.
func NewLLMFilter(endpoint string, cfg *Config, logger *zap.Logger, opts ...LLMOption) *LLMFilter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(endpoint, "/")).
		SetTimeout(defaultLLMTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	client.JSONMarshal = json.Marshal
	client.JSONUnmarshal = json.Unmarshal

	f := &LLMFilter{
		client:       client,
		keepOriginal: cfg.KeepOriginal,
		logStats:     cfg.LogStats,
		logger:       logger.Named("llm_filter"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name implements Filter.
func (f *LLMFilter) Name() string { return "llm" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model,omitempty"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type entity struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

type entityList struct {
	Entities []entity `json:"entities"`
}

// FilterText implements Filter. The url does not influence detection.
func (f *LLMFilter) FilterText(ctx context.Context, text, _ string) (string, Stats, error) {
	if strings.TrimSpace(text) == "" {
		return text, Stats{}, nil
	}
	entities, err := f.detect(ctx, text)
	if err != nil {
		return "", nil, err
	}
	out, stats := redactEntities(text, entities)
	return out, stats, nil
}

// FilterSnapshot implements Filter. Identical strings within one snapshot are
// sent to the endpoint once.
func (f *LLMFilter) FilterSnapshot(ctx context.Context, s *snapshot.BrowserSnapshot, url string) (*Result, error) {
	if s == nil {
		return &Result{Stats: Stats{}, URL: url}, nil
	}
	if url == "" {
		url = s.URL
	}
	type memo struct {
		out   string
		stats Stats
	}
	seen := make(map[string]memo)
	w := &walker{
		text: func(ctx context.Context, text string) (string, Stats, error) {
			if m, ok := seen[text]; ok {
				return m.out, m.stats.Clone(), nil
			}
			out, stats, err := f.FilterText(ctx, text, url)
			if err != nil {
				return "", nil, err
			}
			seen[text] = memo{out: out, stats: stats}
			return out, stats.Clone(), nil
		},
		logger: f.logger,
	}

	work, original := prepare(s, f.keepOriginal)
	stats := Stats{}
	if err := w.walk(ctx, work, stats); err != nil {
		return nil, err
	}
	result := &Result{
		FilteredData: work,
		OriginalData: original,
		Stats:        stats,
		WasFiltered:  stats.Total() > 0,
		URL:          url,
	}
	if f.logStats {
		result.LogStats(f.logger)
	}
	return result, nil
}

// FilterScreenshot implements Filter. Screenshots pass through unchanged.
func (f *LLMFilter) FilterScreenshot(_ context.Context, screenshotB64, _ string) (string, Stats, error) {
	return screenshotB64, Stats{}, nil
}

func (f *LLMFilter) detect(ctx context.Context, text string) ([]entity, error) {
	req := chatRequest{
		Model: f.model,
		Messages: []chatMessage{
			{Role: "system", Content: llmSystemPrompt},
			{Role: "user", Content: text},
		},
		ResponseFormat: map[string]any{"type": "json_object"},
	}
	var out chatResponse
	resp, err := f.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("llm filter request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("llm filter request: unexpected status %d", resp.StatusCode())
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("llm filter response: no choices")
	}
	var list entityList
	content := stripCodeFence(out.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &list); err != nil {
		return nil, fmt.Errorf("llm filter response: %w", err)
	}
	return list.Entities, nil
}

// stripCodeFence removes a ```json fence some models wrap around output.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// redactEntities replaces every literal occurrence of each entity, longest
// first so a span is never split by one of its own substrings.
func redactEntities(text string, entities []entity) (string, Stats) {
	stats := Stats{}
	sorted := make([]entity, 0, len(entities))
	for _, e := range entities {
		if e.Text == "" || isPlaceholder(e.Text) {
			continue
		}
		sorted = append(sorted, e)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i].Text) > len(sorted[j].Text) })

	for _, e := range sorted {
		n := strings.Count(text, e.Text)
		if n == 0 {
			continue
		}
		kind := entityKind(e.Type)
		text = strings.ReplaceAll(text, e.Text, "["+strings.ToUpper(kind)+"_REDACTED]")
		stats[llmStatPrefix+kind] += n
	}
	return text, stats
}

func isPlaceholder(s string) bool {
	return strings.HasPrefix(s, "[") && strings.HasSuffix(s, "_REDACTED]")
}

// entityKind normalizes a model-supplied type to [a-z0-9_].
func entityKind(t string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(t)) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "sensitive"
	}
	return b.String()
}

// NewDefaultFilter builds the filter a config asks for: the regex filter, or
// the regex filter followed by the LLM filter when one is configured.
func NewDefaultFilter(cfg *Config, logger *zap.Logger) Filter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	regex := NewRegexFilter(cfg, logger)
	if !cfg.UseLLMFilter || cfg.LLMFilterEndpoint == "" {
		return regex
	}
	llm := NewLLMFilter(cfg.LLMFilterEndpoint, cfg, logger,
		WithLLMRetry(defaultLLMRetries, defaultLLMRetryWait, defaultLLMRetryMaxWait))
	return NewCompositeFilter(regex, llm).WithLogger(logger)
}
