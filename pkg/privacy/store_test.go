package privacy

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const testConfigPath = "/home/user/.ecan/privacy/privacy_config.json"

func TestStore_LoadMissingIsPassthrough(t *testing.T) {
	store := NewStore(afero.NewMemMapFs(), zap.NewNop())

	cfg := store.Load(testConfigPath)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err := store.LoadStrict(testConfigPath)
	assert.ErrorIs(t, err, ErrConfigIO)
}

func TestStore_SaveCreatesDirectoriesAndRoundTrips(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs, zap.NewNop())
	cfg := ExampleConfig()
	cfg.FilterScreenshots = true
	cfg.DomainRules[0].FieldMasks["input.Card-Number"] = "***"

	require.True(t, store.Save(cfg, testConfigPath))

	exists, err := afero.DirExists(fs, "/home/user/.ecan/privacy")
	require.NoError(t, err)
	assert.True(t, exists)

	loaded, err := store.LoadStrict(testConfigPath)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestStore_DocumentShape(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs, zap.NewNop())
	cfg := DefaultConfig()
	cfg.AddDomainRule(DomainRule{DomainPattern: "a.com", Enabled: true})
	require.True(t, store.Save(cfg, testConfigPath))

	data, err := afero.ReadFile(fs, testConfigPath)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	for _, key := range []string{
		"global_patterns", "domain_rules", "keep_original", "log_stats",
		"filter_screenshots", "use_llm_filter", "llm_filter_endpoint",
	} {
		assert.Contains(t, doc, key)
	}

	rule := doc["domain_rules"].([]any)[0].(map[string]any)
	for _, key := range []string{"domain_pattern", "enabled", "description", "additional_patterns", "disabled_patterns", "field_masks"} {
		assert.Contains(t, rule, key)
	}
	assert.Equal(t, []any{}, rule["additional_patterns"])

	pattern := doc["global_patterns"].([]any)[0].(map[string]any)
	for _, key := range []string{"name", "pattern", "replacement", "description", "enabled", "case_sensitive"} {
		assert.Contains(t, pattern, key)
	}
}

func TestStore_MalformedFallsBack(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs, zap.NewNop())

	require.NoError(t, afero.WriteFile(fs, testConfigPath, []byte("{not json"), 0o644))
	assert.Equal(t, DefaultConfig(), store.Load(testConfigPath))

	require.NoError(t, afero.WriteFile(fs, testConfigPath, []byte(`{"domain_rules":[{"enabled":true}]}`), 0o644))
	assert.Equal(t, DefaultConfig(), store.Load(testConfigPath))
	_, err := store.LoadStrict(testConfigPath)
	var ioErr *ConfigIOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "validate", ioErr.Op)
}

func TestStore_DuplicatePatternNamesLastWins(t *testing.T) {
	fs := afero.NewMemMapFs()
	core, logs := observer.New(zap.WarnLevel)
	store := NewStore(fs, zap.New(core))

	doc := `{"global_patterns": [
		{"name": "email", "pattern": "\\b[\\w.+-]+@[\\w-]+\\.[\\w.]+\\b", "replacement": "[EMAIL_REDACTED]", "enabled": true},
		{"name": "ssn", "pattern": "\\d{3}-\\d{2}-\\d{4}", "replacement": "[OLD]", "enabled": false},
		{"name": "ssn", "pattern": "\\b\\d{3}-\\d{2}-\\d{4}\\b", "replacement": "[SSN_REDACTED]", "enabled": true}
	]}`
	require.NoError(t, afero.WriteFile(fs, testConfigPath, []byte(doc), 0o644))

	cfg := store.Load(testConfigPath)
	require.Len(t, cfg.GlobalPatterns, 3, "the document is not replaced by defaults")
	assert.Equal(t, 1, logs.FilterMessage("Duplicate global pattern names, the last definition applies").Len())

	out, stats, err := NewRegexFilter(cfg, zap.NewNop()).FilterText(context.Background(), "a@b.com 123-45-6789", "")
	require.NoError(t, err)
	assert.Equal(t, "[EMAIL_REDACTED] [SSN_REDACTED]", out)
	assert.Equal(t, Stats{"email": 1, "ssn": 1}, stats)
}

func TestStore_SaveFailureReturnsFalse(t *testing.T) {
	store := NewStore(afero.NewReadOnlyFs(afero.NewMemMapFs()), zap.NewNop())
	assert.False(t, store.Save(DefaultConfig(), testConfigPath))
	assert.False(t, NewStore(afero.NewMemMapFs(), nil).Save(nil, testConfigPath))
}

func TestDefaultConfigPath(t *testing.T) {
	assert.Contains(t, DefaultConfigPath(), ".ecan")
	assert.Contains(t, DefaultConfigPath(), "privacy_config.json")
}
