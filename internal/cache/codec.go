package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"

	"github.com/sawpanic/anomscan/internal/anomaly"
)

// digestInput is everything that determines a result
type digestInput struct {
	Keys      []anomaly.MetricKey `json:"k"`
	Threshold float64             `json:"t"`
	Edges     bool                `json:"e"`
	Series    anomaly.Series      `json:"s"`
}

// Digest fingerprints a series together with the settings that influence the
// result. Custom extractors and tracers are not part of the digest, so callers
// using them should not cache.
func Digest(series anomaly.Series, cfg anomaly.Config) (string, error) {
	payload, err := json.Marshal(digestInput{
		Keys:      cfg.Keys,
		Threshold: cfg.Threshold,
		Edges:     cfg.Edges,
		Series:    series,
	})
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint series: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// EncodeResult serializes a result as snappy compressed JSON
func EncodeResult(result *anomaly.Result) ([]byte, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

// DecodeResult reverses EncodeResult and restores the empty input warning,
// which is not part of the serialized form
func DecodeResult(data []byte) (*anomaly.Result, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress result: %w", err)
	}

	var result anomaly.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	if result.Length == 0 {
		result.Warnings = []error{anomaly.ErrEmptyInput}
	}
	return &result, nil
}
