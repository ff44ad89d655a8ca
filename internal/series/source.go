package series

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sawpanic/anomscan/internal/anomaly"
)

// Source loads a complete series. Every call returns a fresh Series value, so
// each Load is a new input identity for change tracking.
type Source interface {
	Load(ctx context.Context) (anomaly.Series, error)
	String() string
}

// Options carries the settings needed by non-file sources
type Options struct {
	Format       Format        // overrides extension based detection
	Query        string        // SQL query for postgres:// and sqlite:// sources
	LabelColumn  string        // SQL column used as point label
	QueryTimeout time.Duration // per query timeout
	S3           S3Config
}

// Open resolves a location into a Source:
//
//	-                        stdin (Format required)
//	postgres://...           PostgreSQL query
//	sqlite://path/to/db      SQLite query
//	s3://bucket/key          object in S3 or an S3 compatible store
//	anything else            local file
func Open(ctx context.Context, location string, opts Options) (Source, error) {
	if location == "" {
		return nil, fmt.Errorf("input location is required")
	}

	if location == "-" {
		if opts.Format == "" {
			return nil, fmt.Errorf("reading from stdin requires an explicit format")
		}
		return NewReaderSource("stdin", os.Stdin, opts.Format), nil
	}

	scheme := ""
	if i := strings.Index(location, "://"); i > 0 {
		scheme = strings.ToLower(location[:i])
	}

	switch scheme {
	case "postgres", "postgresql":
		return OpenSQL(ctx, "postgres", location, opts)
	case "sqlite":
		return OpenSQL(ctx, "sqlite", location[len(scheme)+3:], opts)
	case "s3":
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("invalid S3 location %q: %w", location, err)
		}
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return nil, fmt.Errorf("S3 location must look like s3://bucket/key, got %q", location)
		}
		client, err := NewS3Client(ctx, opts.S3)
		if err != nil {
			return nil, err
		}
		return NewS3Source(client, u.Host, key, opts.Format), nil
	case "", "file":
		path := strings.TrimPrefix(location, "file://")
		return NewFileSource(path, opts.Format), nil
	default:
		return nil, fmt.Errorf("unsupported input scheme %q", scheme)
	}
}

// FileSource reads a series from a local file
type FileSource struct {
	path   string
	format Format
}

// NewFileSource creates a file source; an empty format is detected from the extension
func NewFileSource(path string, format Format) *FileSource {
	return &FileSource{path: path, format: format}
}

func (f *FileSource) Load(ctx context.Context) (anomaly.Series, error) {
	format := f.format
	if format == "" {
		detected, err := FormatFromPath(f.path)
		if err != nil {
			return nil, err
		}
		format = detected
	}

	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer file.Close()

	series, err := Decode(file, format)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", f.path, err)
	}
	return series, nil
}

func (f *FileSource) String() string {
	return "file:" + f.path
}

// ReaderSource decodes a series from an arbitrary reader once
type ReaderSource struct {
	name   string
	r      io.Reader
	format Format
}

// NewReaderSource wraps r; the reader is consumed by the first Load
func NewReaderSource(name string, r io.Reader, format Format) *ReaderSource {
	return &ReaderSource{name: name, r: r, format: format}
}

func (s *ReaderSource) Load(ctx context.Context) (anomaly.Series, error) {
	return Decode(s.r, s.format)
}

func (s *ReaderSource) String() string {
	return s.name
}
