package privacy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raaihank/browser-sentinel/pkg/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeLLM answers chat completions by reporting every known secret present
// in the user message.
func fakeLLM(t *testing.T, known map[string]string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req chatRequest
		require.NoError(t, json.Unmarshal(body, &req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "local-model", req.Model)

		var list entityList
		list.Entities = []entity{}
		for text, kind := range known {
			if strings.Contains(req.Messages[1].Content, text) {
				list.Entities = append(list.Entities, entity{Text: text, Type: kind})
			}
		}
		content, err := json.Marshal(list)
		require.NoError(t, err)

		resp := map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"role": "assistant", "content": "```json\n" + string(content) + "\n```"}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestLLMFilter(endpoint string, cfg *Config) *LLMFilter {
	return NewLLMFilter(endpoint+"/v1/", cfg, zap.NewNop(),
		WithLLMModel("local-model"),
		WithLLMAPIKey("secret-key"),
	)
}

func TestLLMFilter_FilterText(t *testing.T) {
	var calls atomic.Int32
	srv := fakeLLM(t, map[string]string{"Jane Roe": "person name", "12 Elm St": "address"}, &calls)
	defer srv.Close()

	f := newTestLLMFilter(srv.URL, nil)
	out, stats, err := f.FilterText(context.Background(), "Ship to Jane Roe, 12 Elm St. Thanks Jane Roe", "")
	require.NoError(t, err)
	assert.Equal(t, "Ship to [PERSON_NAME_REDACTED], [ADDRESS_REDACTED]. Thanks [PERSON_NAME_REDACTED]", out)
	assert.Equal(t, Stats{"llm_person_name": 2, "llm_address": 1}, stats)

	out, stats, err = f.FilterText(context.Background(), "   ", "")
	require.NoError(t, err)
	assert.Equal(t, "   ", out)
	assert.Empty(t, stats)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLLMFilter_FilterSnapshotMemoizes(t *testing.T) {
	var calls atomic.Int32
	srv := fakeLLM(t, map[string]string{"Jane Roe": "name"}, &calls)
	defer srv.Close()

	f := newTestLLMFilter(srv.URL, DefaultConfig())
	s := &snapshot.BrowserSnapshot{
		URL:   "https://example.com",
		Title: "Jane Roe",
		Tabs:  []snapshot.Tab{{URL: "https://example.com", Title: "Jane Roe"}},
		DOMState: &snapshot.DOMState{
			Root: element(1, "p", nil, textNode(2, "Jane Roe")),
		},
	}

	result, err := f.FilterSnapshot(context.Background(), s, "")
	require.NoError(t, err)
	assert.True(t, result.WasFiltered)
	assert.Equal(t, "[NAME_REDACTED]", result.FilteredData.Title)
	assert.Equal(t, "[NAME_REDACTED]", result.FilteredData.Tabs[0].Title)
	assert.Equal(t, "[NAME_REDACTED]", result.FilteredData.DOMState.Root.Children[0].NodeValue)
	assert.Equal(t, Stats{"llm_name": 3}, result.Stats)
	assert.Equal(t, "Jane Roe", result.OriginalData.Title)
	// Two distinct strings: the URL and "Jane Roe".
	assert.Equal(t, int32(2), calls.Load())
}

func TestLLMFilter_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewLLMFilter(srv.URL, nil, nil)
	_, _, err := f.FilterText(context.Background(), "hello", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	_, err = f.FilterSnapshot(context.Background(), &snapshot.BrowserSnapshot{Title: "hello"}, "https://a.com")
	assert.Error(t, err)
}

func TestLLMFilter_MalformedContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"I found a name"}}]}`)
	}))
	defer srv.Close()

	_, _, err := NewLLMFilter(srv.URL, nil, nil).FilterText(context.Background(), "hello", "")
	assert.Error(t, err)
}

func TestRedactEntities(t *testing.T) {
	out, stats := redactEntities("call Bob at Bobby's", []entity{
		{Text: "Bob", Type: "Name"},
		{Text: "Bobby's", Type: "possessive-name"},
		{Text: "", Type: "empty"},
		{Text: "[NAME_REDACTED]", Type: "name"},
	})
	assert.Equal(t, "call [NAME_REDACTED] at [POSSESSIVE_NAME_REDACTED]", out)
	assert.Equal(t, Stats{"llm_name": 1, "llm_possessive_name": 1}, stats)

	assert.Equal(t, "sensitive", entityKind("???"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
}

func TestNewDefaultFilter(t *testing.T) {
	_, ok := NewDefaultFilter(nil, nil).(*RegexFilter)
	assert.True(t, ok)

	cfg := DefaultConfig()
	cfg.UseLLMFilter = true
	_, ok = NewDefaultFilter(cfg, nil).(*RegexFilter)
	assert.True(t, ok, "no endpoint configured")

	cfg.LLMFilterEndpoint = "http://localhost:8000/v1"
	composite, ok := NewDefaultFilter(cfg, nil).(*CompositeFilter)
	require.True(t, ok)
	assert.Equal(t, "composite(regex,llm)", composite.Name())
}

func TestNewDefaultFilter_LLMOutageKeepsRegexRedactions(t *testing.T) {
	wait, maxWait := defaultLLMRetryWait, defaultLLMRetryMaxWait
	defaultLLMRetryWait, defaultLLMRetryMaxWait = time.Millisecond, 5*time.Millisecond
	t.Cleanup(func() { defaultLLMRetryWait, defaultLLMRetryMaxWait = wait, maxWait })

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := configWith("email")
	cfg.UseLLMFilter = true
	cfg.LLMFilterEndpoint = srv.URL + "/v1"
	f := NewDefaultFilter(cfg, zap.NewNop())

	out, stats, err := f.FilterText(context.Background(), "mail a@b.com", "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "mail [EMAIL_REDACTED]", out)
	assert.Equal(t, Stats{"email": 1}, stats)
	assert.Equal(t, int32(1+defaultLLMRetries), calls.Load())

	result, err := f.FilterSnapshot(context.Background(), &snapshot.BrowserSnapshot{
		URL:   "https://example.com",
		Title: "Account for a@b.com",
	}, "")
	require.NoError(t, err)
	assert.True(t, result.WasFiltered)
	assert.Equal(t, "Account for [EMAIL_REDACTED]", result.FilteredData.Title)
}
