package agent

import (
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

// SampleIntervalConfigKey is the component configuration key holding the
// publish interval in seconds.
const SampleIntervalConfigKey = "SampleIntervalSeconds"

// MinSampleInterval is the smallest accepted publish interval. It is also the
// value used when the configured interval is absent or invalid.
const MinSampleInterval = 300 * time.Second

// PublishRetryEnvKey names the environment variable that overrides the
// publish retry count.
const PublishRetryEnvKey = "GG_DD_PUB_RETRY_COUNT"

// Publish retry count bounds.
const (
	MinPublishRetry     = 0
	MaxPublishRetry     = 72
	DefaultPublishRetry = 5
)

// Configuration is the resolved component configuration. Values are replaced
// wholesale on reconfiguration and never mutated.
type Configuration struct {
	SampleInterval time.Duration
}

// DefaultConfiguration returns the configuration used before any component
// configuration has been fetched.
func DefaultConfiguration() Configuration {
	return Configuration{SampleInterval: MinSampleInterval}
}

// ResolveConfiguration turns a raw component configuration into a
// Configuration. It never fails: absent, malformed or too small intervals
// are replaced by MinSampleInterval with a warning.
func ResolveConfiguration(raw map[string]any, logger *slog.Logger) Configuration {
	value, ok := raw[SampleIntervalConfigKey]
	if !ok {
		logger.Warn("sample interval not configured, using the minimum",
			"key", SampleIntervalConfigKey,
			"sample_interval", MinSampleInterval,
		)
		return DefaultConfiguration()
	}

	seconds, ok := parseSeconds(value)
	if !ok {
		logger.Warn("invalid sample interval, using the minimum",
			"key", SampleIntervalConfigKey,
			"value", value,
			"sample_interval", MinSampleInterval,
		)
		return DefaultConfiguration()
	}

	minSeconds := int64(MinSampleInterval / time.Second)
	if seconds < minSeconds {
		logger.Warn("sample interval below the minimum, using the minimum",
			"key", SampleIntervalConfigKey,
			"value", seconds,
			"sample_interval", MinSampleInterval,
		)
		return DefaultConfiguration()
	}

	maxSeconds := int64(math.MaxInt64 / int64(time.Second))
	if seconds > maxSeconds {
		seconds = maxSeconds
	}
	return Configuration{SampleInterval: time.Duration(seconds) * time.Second}
}

// parseSeconds converts a decoded configuration value to whole seconds.
// Floats are truncated toward zero. Strings must hold a decimal integer,
// optionally surrounded by whitespace.
func parseSeconds(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return clampUint(uint64(n)), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return clampUint(n), true
	case float32:
		return truncFloat(float64(n))
	case float64:
		return truncFloat(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return truncFloat(f)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func clampUint(n uint64) int64 {
	if n > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}

func truncFloat(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	f = math.Trunc(f)
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64, true
	case f <= math.MinInt64:
		return math.MinInt64, true
	}
	return int64(f), true
}

// ResolvePublishRetries resolves the publish retry count from the raw value
// of PublishRetryEnvKey. set reports whether the variable was present.
// The result is always within [MinPublishRetry, MaxPublishRetry].
func ResolvePublishRetries(raw string, set bool, logger *slog.Logger) int {
	if !set {
		logger.Debug("publish retry count not set, using the default",
			"env", PublishRetryEnvKey,
			"retries", DefaultPublishRetry,
		)
		return DefaultPublishRetry
	}

	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		logger.Warn("invalid publish retry count, using the default",
			"env", PublishRetryEnvKey,
			"value", raw,
			"retries", DefaultPublishRetry,
		)
		return DefaultPublishRetry
	}

	switch {
	case n < MinPublishRetry:
		logger.Warn("publish retry count below the minimum, using the minimum",
			"env", PublishRetryEnvKey,
			"value", n,
			"retries", MinPublishRetry,
		)
		return MinPublishRetry
	case n > MaxPublishRetry:
		logger.Warn("publish retry count above the maximum, using the maximum",
			"env", PublishRetryEnvKey,
			"value", n,
			"retries", MaxPublishRetry,
		)
		return MaxPublishRetry
	}
	return n
}
