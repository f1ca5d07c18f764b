package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/raaihank/browser-sentinel/internal/config"
	"github.com/raaihank/browser-sentinel/pkg/privacy"
	"github.com/raaihank/browser-sentinel/pkg/snapshot"
	"go.uber.org/zap"
)

// Interceptor wraps a host's ContextSource so every snapshot passes through
// the privacy filter before the LLM sees it. It is itself a ContextSource.
type Interceptor struct {
	source   ContextSource
	messages MessageManager
	state    HostState

	filter   privacy.Filter
	enabled  atomic.Bool
	debug    bool
	delay    time.Duration
	strict   bool
	observer Observer
	logger   *zap.Logger

	mu    sync.Mutex
	audit []AuditEntry
}

var _ ContextSource = (*Interceptor)(nil)

// New attaches an interceptor to the host hooks. It refuses to attach when
// any hook is missing.
func New(source ContextSource, messages MessageManager, state HostState, opts ...Option) (*Interceptor, error) {
	var missing []string
	if source == nil {
		missing = append(missing, "ContextSource")
	}
	if messages == nil {
		missing = append(missing, "MessageManager")
	}
	if state == nil {
		missing = append(missing, "HostState")
	}
	if len(missing) > 0 {
		return nil, &HostContractError{Missing: missing}
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("interceptor")

	var rt config.Runtime
	if !o.noEnv {
		rt = config.RuntimeFromEnv(logger)
	}
	if o.debug != nil {
		rt.Debug = *o.debug
	}
	if o.delay != nil {
		rt.StepDelay = *o.delay
	}

	filter := o.filter
	if filter == nil {
		cfg := o.config
		if cfg == nil {
			cfg = privacy.NewStore(nil, logger).Load("")
		}
		filter = privacy.NewDefaultFilter(cfg, logger)
	}

	i := &Interceptor{
		source:   source,
		messages: messages,
		state:    state,
		filter:   filter,
		debug:    rt.Debug,
		delay:    rt.StepDelay,
		strict:   o.strict,
		observer: o.observer,
		logger:   logger,
	}
	i.enabled.Store(o.enabled)

	status := "enabled"
	if !o.enabled {
		status = "disabled (passthrough)"
	}
	logger.Info("Privacy interceptor attached",
		zap.String("filter", filter.Name()),
		zap.String("status", status),
		zap.Bool("debug", i.debug),
		zap.Duration("step_delay", i.delay),
		zap.Bool("strict", i.strict),
	)
	return i, nil
}

// NewFromConfigPath loads the config document at path (empty means the
// default location) and attaches an interceptor using the default filter
// for it. An explicit WithFilter still wins.
func NewFromConfigPath(path string, source ContextSource, messages MessageManager, state HostState, opts ...Option) (*Interceptor, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	cfg := privacy.NewStore(nil, o.logger).Load(path)
	return New(source, messages, state, append([]Option{WithPrivacyConfig(cfg)}, opts...)...)
}

// Filter returns the active filter pipeline.
func (i *Interceptor) Filter() privacy.Filter { return i.filter }

// PrivacyEnabled reports whether snapshots are currently filtered.
func (i *Interceptor) PrivacyEnabled() bool { return i.enabled.Load() }

// SetPrivacyEnabled toggles filtering. The change applies from the next step.
func (i *Interceptor) SetPrivacyEnabled(enabled bool) {
	if i.enabled.Swap(enabled) != enabled {
		i.logger.Info("Privacy filtering toggled", zap.Bool("enabled", enabled))
	}
}

// Debug reports whether step timing logs are on.
func (i *Interceptor) Debug() bool { return i.debug }

// StepDelay returns the pause applied after every step.
func (i *Interceptor) StepDelay() time.Duration { return i.delay }

// Strict reports whether filter failures abort the step.
func (i *Interceptor) Strict() bool { return i.strict }

// PrepareContext captures the step's snapshot through the host, filters it
// and returns the copy that is safe to show the LLM.
func (i *Interceptor) PrepareContext(ctx context.Context, step *StepInfo) (*snapshot.BrowserSnapshot, error) {
	start := time.Now()
	snap, err := i.source.PrepareContext(ctx, step)
	if err != nil {
		return nil, err
	}
	originalElapsed := time.Since(start)

	rec := StepRecord{
		ID:              uuid.NewString(),
		Step:            stepNumber(step),
		PrivacyEnabled:  i.enabled.Load(),
		OriginalElapsed: originalElapsed,
	}
	out := snap

	if rec.PrivacyEnabled {
		filterStart := time.Now()
		result, ferr := i.runFilter(ctx, snap)
		rec.FilterElapsed = time.Since(filterStart)

		if ferr != nil {
			rec.Error = ferr.Error()
			if i.strict {
				i.notify(rec, start)
				return nil, fmt.Errorf("%w: %w", ErrFilterFailed, ferr)
			}
			i.logger.Error("Privacy filter failed, passing snapshot through unfiltered",
				zap.String("url", urlOf(snap)),
				zap.Int("step", rec.Step),
				zap.Error(ferr),
			)
		} else {
			i.record(rec, result)
			rec.WasFiltered = result.WasFiltered
			rec.Stats = result.Stats.Clone()
			if result.FilteredData != nil {
				rec.URL = result.FilteredData.URL
			}
			if result.WasFiltered {
				if err := i.rebuild(ctx, step, result.FilteredData); err != nil {
					return nil, fmt.Errorf("rebuild state messages: %w", err)
				}
				out = result.FilteredData
				i.logger.Debug("Applied privacy filter",
					zap.Int("step", rec.Step),
					zap.Int("redacted", result.Stats.Total()),
				)
			}
		}
	}

	if err := i.pace(ctx); err != nil {
		return nil, err
	}

	i.notify(rec, start)
	return out, nil
}

func (i *Interceptor) runFilter(ctx context.Context, snap *snapshot.BrowserSnapshot) (result *privacy.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%s filter panicked: %v", i.filter.Name(), r)
		}
	}()
	result, err = i.filter.FilterSnapshot(ctx, snap, urlOf(snap))
	if err == nil && result == nil {
		result = &privacy.Result{FilteredData: snap, Stats: privacy.Stats{}, URL: urlOf(snap)}
	}
	return result, err
}

func (i *Interceptor) rebuild(ctx context.Context, step *StepInfo, filtered *snapshot.BrowserSnapshot) error {
	return i.messages.RebuildStateMessages(ctx, StateMessageInput{
		Snapshot:           filtered,
		ModelOutput:        i.state.LastModelOutput(),
		Result:             i.state.LastResult(),
		Step:               step,
		UseVision:          i.state.UseVision(),
		SensitiveData:      i.state.SensitiveData(),
		AvailableFilePaths: i.state.AvailableFilePaths(),
	})
}

// pace sleeps for the configured step delay unless ctx ends first.
func (i *Interceptor) pace(ctx context.Context) error {
	if i.delay <= 0 {
		return nil
	}
	timer := time.NewTimer(i.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (i *Interceptor) notify(rec StepRecord, start time.Time) {
	rec.TotalElapsed = time.Since(start)
	rec.Timestamp = time.Now()

	if i.debug {
		i.logger.Info("Privacy step timing",
			zap.Int("step", rec.Step),
			zap.String("url", rec.URL),
			zap.Bool("was_filtered", rec.WasFiltered),
			zap.Int("redacted", rec.Stats.Total()),
			zap.Any("stats", rec.Stats),
			zap.Duration("original_elapsed", rec.OriginalElapsed),
			zap.Duration("filter_elapsed", rec.FilterElapsed),
			zap.Duration("total_elapsed", rec.TotalElapsed),
		)
	}
	if i.observer != nil {
		i.observer.ObserveStep(rec)
	}
}

func stepNumber(step *StepInfo) int {
	if step == nil {
		return 0
	}
	return step.StepNumber
}

func urlOf(s *snapshot.BrowserSnapshot) string {
	if s == nil {
		return ""
	}
	return s.URL
}
