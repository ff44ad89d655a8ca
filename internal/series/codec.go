// Package series decodes anomaly.Series values from files, SQL queries and
// object storage.
package series

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/anomscan/internal/anomaly"
)

// Format identifies an input encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
)

// labelFields are the record fields used as the point label, in priority order
var labelFields = []string{"name", "label"}

// FormatFromPath guesses the format from a file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported input format for %q (want .json, .yaml, .yml or .csv)", path)
	}
}

// ParseFormat validates a user supplied format name
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatJSON, FormatYAML, FormatCSV:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown input format %q", name)
	}
}

// Decode reads a whole series in the given format
func Decode(r io.Reader, format Format) (anomaly.Series, error) {
	switch format {
	case FormatJSON:
		return decodeJSON(r)
	case FormatYAML:
		return decodeYAML(r)
	case FormatCSV:
		return decodeCSV(r)
	default:
		return nil, fmt.Errorf("unknown input format %q", format)
	}
}

// DecodeBytes is Decode over an in-memory payload
func DecodeBytes(data []byte, format Format) (anomaly.Series, error) {
	return Decode(bytes.NewReader(data), format)
}

func decodeJSON(r io.Reader) (anomaly.Series, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var records []map[string]interface{}
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode JSON series: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("failed to decode JSON series: unexpected data after the top-level array")
	}
	return fromRecords(records)
}

func decodeYAML(r io.Reader) (anomaly.Series, error) {
	var records []map[string]interface{}
	if err := yaml.NewDecoder(r).Decode(&records); err != nil {
		if err == io.EOF {
			return anomaly.Series{}, nil
		}
		return nil, fmt.Errorf("failed to decode YAML series: %w", err)
	}
	return fromRecords(records)
}

func decodeCSV(r io.Reader) (anomaly.Series, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return anomaly.Series{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	series := anomaly.Series{}
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}

		record := make(map[string]interface{}, len(header))
		for i, column := range header {
			if i >= len(row) || row[i] == "" {
				continue
			}
			record[strings.TrimSpace(column)] = row[i]
		}

		point, err := toPoint(record, true)
		if err != nil {
			return nil, fmt.Errorf("CSV line %d: %w", line, err)
		}
		series = append(series, point)
	}

	return series, nil
}

func fromRecords(records []map[string]interface{}) (anomaly.Series, error) {
	series := make(anomaly.Series, 0, len(records))
	for i, record := range records {
		point, err := toPoint(record, false)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		series = append(series, point)
	}
	return series, nil
}

// toPoint splits a flat record into label, numeric values and attributes.
// Text is parsed as a number only for untyped inputs (CSV cells, SQL text
// columns); a quoted JSON or YAML value stays an attribute.
func toPoint(record map[string]interface{}, parseText bool) (anomaly.DataPoint, error) {
	point := anomaly.DataPoint{Values: make(map[anomaly.MetricKey]float64)}

	labelField := ""
	for _, field := range labelFields {
		if v, ok := record[field]; ok && v != nil {
			point.Label = fmt.Sprint(v)
			labelField = field
			break
		}
	}

	for field, raw := range record {
		if field == labelField || raw == nil {
			continue
		}

		value, numeric, err := toFloat(raw, parseText)
		if err != nil {
			return point, fmt.Errorf("field %q: %w", field, err)
		}
		if numeric {
			point.Values[anomaly.MetricKey(field)] = value
			continue
		}

		if point.Attrs == nil {
			point.Attrs = make(map[string]string)
		}
		point.Attrs[field] = fmt.Sprint(raw)
	}

	return point, nil
}

// toFloat converts a decoded scalar to float64; nested values are rejected
func toFloat(raw interface{}, parseText bool) (float64, bool, error) {
	switch v := raw.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false, nil
		}
		return f, true, nil
	case float64:
		return v, true, nil
	case float32:
		return float64(v), true, nil
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	case int32:
		return float64(v), true, nil
	case uint64:
		return float64(v), true, nil
	case []byte:
		if !parseText {
			return 0, false, nil
		}
		return parseNumeric(string(v))
	case string:
		if !parseText {
			return 0, false, nil
		}
		return parseNumeric(v)
	case bool:
		return 0, false, nil
	case map[string]interface{}, []interface{}:
		return 0, false, fmt.Errorf("nested values are not supported")
	default:
		return 0, false, nil
	}
}

func parseNumeric(s string) (float64, bool, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false, nil
	}
	return f, true, nil
}
