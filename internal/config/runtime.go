package config

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	// EnvPrivacyDebug enables per-step timing logs when truthy.
	EnvPrivacyDebug = EnvPrefix + "_PRIVACY_DEBUG"
	// EnvPrivacyStepDelay holds the post-step sleep in (fractional) seconds.
	EnvPrivacyStepDelay = EnvPrefix + "_PRIVACY_STEP_DELAY_SECONDS"
)

// Runtime holds the interceptor controls read from the environment.
type Runtime struct {
	Debug     bool
	StepDelay time.Duration
}

// RuntimeFromEnv reads the privacy runtime controls. Unparseable or
// non-positive delays are ignored with a warning.
func RuntimeFromEnv(logger *zap.Logger) Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	_ = v.BindEnv("privacy_debug")
	_ = v.BindEnv("privacy_step_delay_seconds")

	rt := Runtime{Debug: IsTruthy(v.GetString("privacy_debug"))}

	raw := strings.TrimSpace(v.GetString("privacy_step_delay_seconds"))
	if raw == "" {
		return rt
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds <= 0 || math.IsInf(seconds, 0) || math.IsNaN(seconds) {
		logger.Warn("Ignoring invalid privacy step delay",
			zap.String("env", EnvPrivacyStepDelay),
			zap.String("value", raw),
		)
		return rt
	}
	rt.StepDelay = secondsToDuration(seconds)
	return rt
}

// IsTruthy accepts 1, true, yes and on, case-insensitively.
func IsTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
