package anomaly

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches every *ConfigurationError via errors.Is
	ErrConfiguration = errors.New("anomaly: configuration error")

	// ErrEmptyInput is attached to Result.Warnings when the series is empty
	ErrEmptyInput = EmptyInputWarning{}
)

// ConfigurationError reports misuse: a bad threshold, an empty key set, or a
// requested key that is missing, non-numeric or non-finite on some point
type ConfigurationError struct {
	Field  string    // configuration field or "series"
	Key    MetricKey // offending key, if any
	Index  int       // offending position, -1 when not position-specific
	Reason string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Key != "" && e.Index >= 0:
		return fmt.Sprintf("anomaly: %s: key %q at index %d: %s", e.Field, e.Key, e.Index, e.Reason)
	case e.Key != "":
		return fmt.Sprintf("anomaly: %s: key %q: %s", e.Field, e.Key, e.Reason)
	default:
		return fmt.Sprintf("anomaly: %s: %s", e.Field, e.Reason)
	}
}

// Is lets errors.Is(err, ErrConfiguration) match
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func configError(field string, reason string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Field: field, Index: -1, Reason: fmt.Sprintf(reason, args...)}
}

func valueError(key MetricKey, index int, reason string) *ConfigurationError {
	return &ConfigurationError{Field: "series", Key: key, Index: index, Reason: reason}
}

// EmptyInputWarning is the non-fatal signal for an empty series. It is never
// returned as the error of Compute, only listed in Result.Warnings.
type EmptyInputWarning struct{}

func (EmptyInputWarning) Error() string {
	return "anomaly: empty series, nothing to compute"
}

// IsEmptyInput reports whether err is the empty input warning
func IsEmptyInput(err error) bool {
	var w EmptyInputWarning
	return errors.As(err, &w)
}
