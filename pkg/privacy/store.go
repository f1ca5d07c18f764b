package privacy

import (
	"errors"
	"io/fs"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultConfigPath = "~/.ecan/privacy/privacy_config.json"

// DefaultConfigPath returns the per-user config document location.
func DefaultConfigPath() string {
	p, err := homedir.Expand(defaultConfigPath)
	if err != nil {
		return filepath.Join(".ecan", "privacy", "privacy_config.json")
	}
	return p
}

// Store loads and saves the config document.
type Store struct {
	fs     afero.Fs
	logger *zap.Logger
}

// NewStore creates a store over fs. A nil fs means the OS filesystem.
func NewStore(fsys afero.Fs, logger *zap.Logger) *Store {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{fs: fsys, logger: logger}
}

func resolvePath(path string) string {
	if path == "" {
		return DefaultConfigPath()
	}
	if expanded, err := homedir.Expand(path); err == nil {
		return expanded
	}
	return path
}

// Load never fails: a missing document yields DefaultConfig, and a
// malformed or invalid one is logged and also yields DefaultConfig.
func (s *Store) Load(path string) *Config {
	path = resolvePath(path)
	cfg, err := s.LoadStrict(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("Privacy config not found, using defaults", zap.String("path", path))
		} else {
			s.logger.Error("Failed to load privacy config, using defaults",
				zap.String("path", path),
				zap.Error(err),
			)
		}
		return DefaultConfig()
	}
	s.logger.Info("Loaded privacy config",
		zap.String("path", path),
		zap.Int("global_patterns", len(cfg.GlobalPatterns)),
		zap.Int("domain_rules", len(cfg.DomainRules)),
	)
	return cfg
}

// LoadStrict reads, decodes and validates the document, returning a
// ConfigIOError on any failure.
func (s *Store) LoadStrict(path string) (*Config, error) {
	path = resolvePath(path)
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, &ConfigIOError{Op: "read", Path: path, Err: err}
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigIOError{Op: "decode", Path: path, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigIOError{Op: "validate", Path: path, Err: err}
	}
	if dups := cfg.DuplicatePatternNames(); len(dups) > 0 {
		s.logger.Warn("Duplicate global pattern names, the last definition applies",
			zap.String("path", path),
			zap.Strings("names", dups),
		)
	}
	return &cfg, nil
}

// Save writes cfg as indented JSON, creating parent directories. Failures
// are logged and reported as false.
func (s *Store) Save(cfg *Config, path string) bool {
	path = resolvePath(path)
	if err := s.save(cfg, path); err != nil {
		s.logger.Error("Failed to save privacy config", zap.Error(err))
		return false
	}
	s.logger.Info("Saved privacy config", zap.String("path", path))
	return true
}

func (s *Store) save(cfg *Config, path string) error {
	if cfg == nil {
		return &ConfigIOError{Op: "save", Path: path, Err: errors.New("nil config")}
	}
	doc := normalize(cfg)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &ConfigIOError{Op: "encode", Path: path, Err: err}
	}
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &ConfigIOError{Op: "mkdir", Path: path, Err: err}
	}
	if err := afero.WriteFile(s.fs, path, data, 0o644); err != nil {
		return &ConfigIOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// normalize replaces nil containers with empty ones so the document always
// carries lists and objects rather than nulls.
func normalize(cfg *Config) *Config {
	out := cfg.Clone()
	if out.GlobalPatterns == nil {
		out.GlobalPatterns = []Pattern{}
	}
	if out.DomainRules == nil {
		out.DomainRules = []DomainRule{}
	}
	for i := range out.DomainRules {
		r := &out.DomainRules[i]
		if r.AdditionalPatterns == nil {
			r.AdditionalPatterns = []Pattern{}
		}
		if r.DisabledPatterns == nil {
			r.DisabledPatterns = []string{}
		}
		if r.FieldMasks == nil {
			r.FieldMasks = map[string]string{}
		}
	}
	return out
}
