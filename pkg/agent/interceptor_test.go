package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/raaihank/browser-sentinel/pkg/privacy"
	"github.com/raaihank/browser-sentinel/pkg/snapshot"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// fakeHost implements every host hook and records rebuild calls.
type fakeHost struct {
	mu         sync.Mutex
	snapshots  []*snapshot.BrowserSnapshot
	next       int
	err        error
	rebuilds   []StateMessageInput
	rebuildErr error
}

func (h *fakeHost) PrepareContext(_ context.Context, _ *StepInfo) (*snapshot.BrowserSnapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	s := h.snapshots[h.next%len(h.snapshots)]
	h.next++
	return s, nil
}

func (h *fakeHost) RebuildStateMessages(_ context.Context, in StateMessageInput) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rebuilds = append(h.rebuilds, in)
	return h.rebuildErr
}

func (h *fakeHost) LastModelOutput() *ModelOutput    { return &ModelOutput{NextGoal: "log in"} }
func (h *fakeHost) LastResult() []ActionResult       { return []ActionResult{{ExtractedContent: "clicked"}} }
func (h *fakeHost) UseVision() bool                  { return true }
func (h *fakeHost) SensitiveData() map[string]string { return map[string]string{"pw": "x"} }
func (h *fakeHost) AvailableFilePaths() []string     { return []string{"/tmp/a.pdf"} }

type failingFilter struct {
	err   error
	panic bool
}

func (f failingFilter) Name() string { return "failing" }

func (f failingFilter) FilterText(context.Context, string, string) (string, privacy.Stats, error) {
	return "", nil, f.err
}

func (f failingFilter) FilterSnapshot(context.Context, *snapshot.BrowserSnapshot, string) (*privacy.Result, error) {
	if f.panic {
		panic("boom")
	}
	return nil, f.err
}

func (f failingFilter) FilterScreenshot(_ context.Context, s, _ string) (string, privacy.Stats, error) {
	return s, nil, nil
}

func emailConfig() *privacy.Config {
	return &privacy.Config{
		GlobalPatterns: []privacy.Pattern{
			privacy.NewPattern("email", `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, "[EMAIL_REDACTED]"),
			privacy.Defaults(true)["url_secret"],
		},
		KeepOriginal: true,
	}
}

// emailPage is a profile page with an email in the title, the DOM and a
// form field, a session token in its URL and a second tab on the inbox.
func emailPage() *snapshot.BrowserSnapshot {
	text := &snapshot.DOMNode{ID: 2, NodeType: snapshot.TextNode, NodeValue: "Contact john.doe@example.com"}
	input := &snapshot.DOMNode{ID: 3, NodeType: snapshot.ElementNode, TagName: "input",
		Attributes: map[string]string{"value": "jane@corp.io"}}
	root := &snapshot.DOMNode{ID: 1, NodeType: snapshot.ElementNode, TagName: "body",
		Children: []*snapshot.DOMNode{text, input}}
	return &snapshot.BrowserSnapshot{
		URL:   "https://example.com/profile?token=abc123",
		Title: "Profile of john.doe@example.com",
		Tabs: []snapshot.Tab{
			{TargetID: "t1", URL: "https://example.com/profile?token=abc123", Title: "Profile of john.doe@example.com"},
			{TargetID: "t2", URL: "https://mail.example.com/inbox", Title: "Inbox - jane@corp.io"},
		},
		DOMState: &snapshot.DOMState{Root: root, SelectorMap: map[int]*snapshot.DOMNode{3: input}},
	}
}

func newTestInterceptor(t *testing.T, host *fakeHost, opts ...Option) *Interceptor {
	t.Helper()
	base := []Option{WithoutEnv(), WithPrivacyConfig(emailConfig())}
	i, err := New(host, host, host, append(base, opts...)...)
	require.NoError(t, err)
	return i
}

func TestPrepareContext_FiltersAndRebuilds(t *testing.T) {
	page := emailPage()
	before := page.Clone()
	host := &fakeHost{snapshots: []*snapshot.BrowserSnapshot{page}}
	i := newTestInterceptor(t, host)

	step := &StepInfo{StepNumber: 4, MaxSteps: 10}
	got, err := i.PrepareContext(context.Background(), step)
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/profile?token=[REDACTED]", got.URL)
	assert.Equal(t, "Profile of [EMAIL_REDACTED]", got.Title)
	assert.Equal(t, "Contact [EMAIL_REDACTED]", got.DOMState.Root.Children[0].NodeValue)
	assert.Equal(t, "[EMAIL_REDACTED]", got.DOMState.SelectorMap[3].Attributes["value"])
	assert.Equal(t, []snapshot.Tab{
		{TargetID: "t1", URL: "https://example.com/profile?token=[REDACTED]", Title: "Profile of [EMAIL_REDACTED]"},
		{TargetID: "t2", URL: "https://mail.example.com/inbox", Title: "Inbox - [EMAIL_REDACTED]"},
	}, got.Tabs)

	require.Len(t, host.rebuilds, 1)
	rb := host.rebuilds[0]
	assert.Same(t, got, rb.Snapshot)
	assert.Same(t, step, rb.Step)
	assert.Equal(t, "log in", rb.ModelOutput.NextGoal)
	assert.True(t, rb.UseVision)
	assert.Equal(t, []string{"/tmp/a.pdf"}, rb.AvailableFilePaths)

	entries := i.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 4, entries[0].Step)
	assert.NotEmpty(t, entries[0].ID)
	assert.Equal(t, privacy.Stats{"email": 5, "url_secret": 2}, i.Stats())
	// Audit entries keep the URL the patterns were resolved for.
	assert.Equal(t, "https://example.com/profile?token=abc123", entries[0].Result.URL)

	// The host's snapshot is untouched and the audit keeps an equal copy.
	assert.True(t, cmp.Equal(before, page), cmp.Diff(before, page))
	assert.True(t, cmp.Equal(before, i.Results()[0].OriginalData))
}

func TestPrepareContext_NothingToRedact(t *testing.T) {
	page := &snapshot.BrowserSnapshot{URL: "https://example.com", Title: "Home"}
	host := &fakeHost{snapshots: []*snapshot.BrowserSnapshot{page}}
	i := newTestInterceptor(t, host)

	got, err := i.PrepareContext(context.Background(), nil)
	require.NoError(t, err)
	assert.Same(t, page, got)
	assert.Empty(t, host.rebuilds)
	assert.Len(t, i.Results(), 1)
	assert.False(t, i.Results()[0].WasFiltered)
}

func TestPrepareContext_Disabled(t *testing.T) {
	page := emailPage()
	host := &fakeHost{snapshots: []*snapshot.BrowserSnapshot{page}}
	i := newTestInterceptor(t, host, WithPrivacyEnabled(false))
	assert.False(t, i.PrivacyEnabled())

	got, err := i.PrepareContext(context.Background(), nil)
	require.NoError(t, err)
	assert.Same(t, page, got)
	assert.Empty(t, host.rebuilds)
	assert.Empty(t, i.Entries())

	i.SetPrivacyEnabled(true)
	got, err = i.PrepareContext(context.Background(), nil)
	require.NoError(t, err)
	assert.NotSame(t, page, got)
	assert.Len(t, host.rebuilds, 1)
}

func TestPrepareContext_SourceError(t *testing.T) {
	host := &fakeHost{err: errors.New("browser crashed")}
	i := newTestInterceptor(t, host)

	_, err := i.PrepareContext(context.Background(), nil)
	assert.EqualError(t, err, "browser crashed")
	assert.Empty(t, i.Entries())
}

func TestPrepareContext_FilterFailure(t *testing.T) {
	tests := []struct {
		name   string
		filter failingFilter
	}{
		{"error", failingFilter{err: errors.New("llm unavailable")}},
		{"panic", failingFilter{panic: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/passthrough", func(t *testing.T) {
			page := emailPage()
			host := &fakeHost{snapshots: []*snapshot.BrowserSnapshot{page}}
			var recs []StepRecord
			i := newTestInterceptor(t, host,
				WithFilter(tt.filter),
				WithObserver(ObserverFunc(func(r StepRecord) { recs = append(recs, r) })),
			)

			got, err := i.PrepareContext(context.Background(), nil)
			require.NoError(t, err)
			assert.Same(t, page, got)
			assert.Empty(t, i.Entries())
			assert.Empty(t, host.rebuilds)
			require.Len(t, recs, 1)
			assert.NotEmpty(t, recs[0].Error)
			assert.Empty(t, recs[0].URL)
		})
		t.Run(tt.name+"/strict", func(t *testing.T) {
			host := &fakeHost{snapshots: []*snapshot.BrowserSnapshot{emailPage()}}
			i := newTestInterceptor(t, host, WithFilter(tt.filter), WithStrict(true))

			got, err := i.PrepareContext(context.Background(), nil)
			assert.Nil(t, got)
			assert.ErrorIs(t, err, ErrFilterFailed)
			assert.Empty(t, i.Entries())
		})
	}
}

func TestPrepareContext_LLMOutageStillRedacts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	for _, keep := range []bool{true, false} {
		t.Run(fmt.Sprintf("keep_original=%t", keep), func(t *testing.T) {
			cfg := emailConfig()
			cfg.KeepOriginal = keep
			cfg.UseLLMFilter = true
			cfg.LLMFilterEndpoint = srv.URL + "/v1"

			host := &fakeHost{snapshots: []*snapshot.BrowserSnapshot{emailPage()}}
			i := newTestInterceptor(t, host, WithPrivacyConfig(cfg))
			assert.Equal(t, "composite(regex,llm)", i.Filter().Name())

			got, err := i.PrepareContext(context.Background(), nil)
			require.NoError(t, err)
			assert.Equal(t, "Profile of [EMAIL_REDACTED]", got.Title)
			assert.Equal(t, "Contact [EMAIL_REDACTED]", got.DOMState.Root.Children[0].NodeValue)
			assert.Len(t, host.rebuilds, 1)
			require.Len(t, i.Entries(), 1)
			assert.Equal(t, keep, i.Results()[0].OriginalData != nil)
		})
	}
}

func TestPrepareContext_RebuildError(t *testing.T) {
	host := &fakeHost{snapshots: []*snapshot.BrowserSnapshot{emailPage()}, rebuildErr: errors.New("closed")}
	i := newTestInterceptor(t, host)

	got, err := i.PrepareContext(context.Background(), nil)
	assert.Nil(t, got)
	assert.ErrorContains(t, err, "rebuild state messages")
}

func TestPrepareContext_StepDelay(t *testing.T) {
	host := &fakeHost{snapshots: []*snapshot.BrowserSnapshot{emailPage()}}
	i := newTestInterceptor(t, host, WithStepDelay(30*time.Millisecond))

	var rec StepRecord
	i.observer = ObserverFunc(func(r StepRecord) { rec = r })

	start := time.Now()
	_, err := i.PrepareContext(context.Background(), nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.GreaterOrEqual(t, rec.TotalElapsed, 30*time.Millisecond+rec.FilterElapsed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := i.PrepareContext(ctx, nil)
	assert.Nil(t, got)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_HostContract(t *testing.T) {
	host := &fakeHost{}
	_, err := New(nil, nil, host, WithoutEnv())
	require.ErrorIs(t, err, ErrHostContract)

	var hce *HostContractError
	require.ErrorAs(t, err, &hce)
	assert.Equal(t, []string{"ContextSource", "MessageManager"}, hce.Missing)
}

func TestNew_EnvAndOptions(t *testing.T) {
	t.Setenv("ECAN_PRIVACY_DEBUG", "yes")
	t.Setenv("ECAN_PRIVACY_STEP_DELAY_SECONDS", "0.5")
	host := &fakeHost{}

	i, err := New(host, host, host, WithPrivacyConfig(emailConfig()))
	require.NoError(t, err)
	assert.True(t, i.Debug())
	assert.Equal(t, 500*time.Millisecond, i.StepDelay())

	i, err = New(host, host, host, WithPrivacyConfig(emailConfig()), WithDebug(false), WithStepDelay(0))
	require.NoError(t, err)
	assert.False(t, i.Debug())
	assert.Zero(t, i.StepDelay())

	i, err = New(host, host, host, WithPrivacyConfig(emailConfig()), WithoutEnv())
	require.NoError(t, err)
	assert.False(t, i.Debug())
	assert.Zero(t, i.StepDelay())
}

func TestNewFromConfigPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "privacy_config.json")
	require.True(t, privacy.NewStore(afero.NewOsFs(), zap.NewNop()).Save(emailConfig(), path))

	host := &fakeHost{snapshots: []*snapshot.BrowserSnapshot{emailPage()}}
	i, err := NewFromConfigPath(path, host, host, host, WithoutEnv())
	require.NoError(t, err)
	assert.Equal(t, "regex", i.Filter().Name())

	got, err := i.PrepareContext(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Contact [EMAIL_REDACTED]", got.DOMState.Root.Children[0].NodeValue)
}

func TestClearAudit(t *testing.T) {
	host := &fakeHost{snapshots: []*snapshot.BrowserSnapshot{emailPage()}}
	i := newTestInterceptor(t, host)

	_, err := i.PrepareContext(context.Background(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, i.Entries())

	i.ClearAudit()
	assert.Empty(t, i.Entries())
	assert.Empty(t, i.Stats())
	assert.True(t, i.PrivacyEnabled())
}

func TestStats_Monotonic(t *testing.T) {
	words := []string{"hello", "a@b.io", "team", "x.y@mail.org", ""}
	rapid.Check(t, func(t *rapid.T) {
		titles := rapid.SliceOfN(rapid.SampledFrom(words), 1, 8).Draw(t, "titles")
		pages := make([]*snapshot.BrowserSnapshot, len(titles))
		for k, title := range titles {
			pages[k] = &snapshot.BrowserSnapshot{URL: "https://example.com", Title: title}
		}
		host := &fakeHost{snapshots: pages}
		i, err := New(host, host, host, WithoutEnv(), WithPrivacyConfig(emailConfig()))
		if err != nil {
			t.Fatal(err)
		}

		prev := 0
		for range pages {
			if _, err := i.PrepareContext(context.Background(), nil); err != nil {
				t.Fatal(err)
			}
			total := i.Stats().Total()
			if total < prev {
				t.Fatalf("stats decreased: %d -> %d", prev, total)
			}
			prev = total
		}

		sum := 0
		for _, r := range i.Results() {
			sum += r.Stats.Total()
		}
		if sum != prev {
			t.Fatalf("aggregate %d != sum of results %d", prev, sum)
		}
	})
}
