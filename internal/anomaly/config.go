package anomaly

import (
	"math"
	"strings"
)

// DefaultThreshold is the |z| bound above which a point is flagged
const DefaultThreshold = 1.0

// Extractor reads the value of one metric from a data point. The second
// return value is false when the point does not carry the metric.
type Extractor func(p DataPoint) (float64, bool)

// ValueExtractor returns the default extractor reading p.Values[key]
func ValueExtractor(key MetricKey) Extractor {
	return func(p DataPoint) (float64, bool) {
		v, ok := p.Values[key]
		return v, ok
	}
}

// Config controls one computation
type Config struct {
	// Keys is the set of tracked metrics; duplicates are collapsed
	Keys []MetricKey `json:"keys" yaml:"keys"`

	// Threshold is the strict |z| bound and must be > 0
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// Edges adds adjacent-pair highlighting to every metric result
	Edges bool `json:"edges" yaml:"edges"`

	// Extractors overrides how a key is read from a point
	Extractors map[MetricKey]Extractor `json:"-" yaml:"-"`

	// Tracer receives per-metric statistics when set
	Tracer Tracer `json:"-" yaml:"-"`
}

// DefaultConfig returns a configuration tracking the given keys at the default threshold
func DefaultConfig(keys ...MetricKey) Config {
	return Config{
		Keys:      keys,
		Threshold: DefaultThreshold,
	}
}

// ParseKeys splits a comma separated key list, dropping blanks
func ParseKeys(s string) []MetricKey {
	var keys []MetricKey
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			keys = append(keys, MetricKey(part))
		}
	}
	return keys
}

// validate checks the configuration and returns a normalized copy
func (c Config) validate() (Config, error) {
	out := c

	if math.IsNaN(out.Threshold) || math.IsInf(out.Threshold, 0) {
		return out, configError("threshold", "must be a finite number, got %v", c.Threshold)
	}
	if out.Threshold <= 0 {
		return out, configError("threshold", "must be > 0, got %v", c.Threshold)
	}

	if len(c.Keys) == 0 {
		return out, configError("keys", "at least one metric key is required")
	}

	seen := make(map[MetricKey]bool, len(c.Keys))
	keys := make([]MetricKey, 0, len(c.Keys))
	for _, k := range c.Keys {
		if strings.TrimSpace(string(k)) == "" {
			return out, configError("keys", "metric key must not be blank")
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	out.Keys = keys

	extractors := make(map[MetricKey]Extractor, len(keys))
	for _, k := range keys {
		if fn, ok := c.Extractors[k]; ok && fn != nil {
			extractors[k] = fn
			continue
		}
		extractors[k] = ValueExtractor(k)
	}
	out.Extractors = extractors

	return out, nil
}
