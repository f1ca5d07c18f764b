package agent

import (
	"time"

	"github.com/raaihank/browser-sentinel/pkg/privacy"
	"go.uber.org/zap"
)

// Option configures an Interceptor.
type Option func(*options)

type options struct {
	filter   privacy.Filter
	config   *privacy.Config
	enabled  bool
	debug    *bool
	delay    *time.Duration
	strict   bool
	observer Observer
	logger   *zap.Logger
	noEnv    bool
}

func defaultOptions() *options {
	return &options{enabled: true}
}

// WithFilter sets the filter pipeline. It takes precedence over
// WithPrivacyConfig.
func WithFilter(f privacy.Filter) Option {
	return func(o *options) { o.filter = f }
}

// WithPrivacyConfig builds the default filter from cfg.
func WithPrivacyConfig(cfg *privacy.Config) Option {
	return func(o *options) { o.config = cfg }
}

// WithPrivacyEnabled sets the initial enablement. Disabled interceptors pass
// snapshots through untouched.
func WithPrivacyEnabled(enabled bool) Option {
	return func(o *options) { o.enabled = enabled }
}

// WithDebug enables per-step timing logs, overriding the environment.
func WithDebug(debug bool) Option {
	return func(o *options) { o.debug = &debug }
}

// WithStepDelay sets the pause after every step, overriding the
// environment. Non-positive values disable it.
func WithStepDelay(d time.Duration) Option {
	return func(o *options) {
		if d < 0 {
			d = 0
		}
		o.delay = &d
	}
}

// WithStrict makes filter failures abort the step instead of passing the
// unfiltered snapshot through.
func WithStrict(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// WithObserver registers a step observer.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithoutEnv ignores ECAN_PRIVACY_DEBUG and ECAN_PRIVACY_STEP_DELAY_SECONDS.
func WithoutEnv() Option {
	return func(o *options) { o.noEnv = true }
}
