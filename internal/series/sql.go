package series

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"   // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/sawpanic/anomscan/internal/anomaly"
)

const defaultQueryTimeout = 30 * time.Second

// SQLSource runs a query and turns each row into a data point. Row order is
// series order, so the query should carry an ORDER BY.
type SQLSource struct {
	db          *sqlx.DB
	query       string
	labelColumn string
	timeout     time.Duration
	owned       bool
}

// NewSQLSource wraps an existing connection; the caller keeps ownership of db
func NewSQLSource(db *sqlx.DB, query, labelColumn string, timeout time.Duration) *SQLSource {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &SQLSource{
		db:          db,
		query:       query,
		labelColumn: labelColumn,
		timeout:     timeout,
	}
}

// OpenSQL opens a connection for driver/dsn and verifies it with a ping
func OpenSQL(ctx context.Context, driver, dsn string, opts Options) (*SQLSource, error) {
	if opts.Query == "" {
		return nil, fmt.Errorf("a SQL query is required for %s sources", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	source := NewSQLSource(db, opts.Query, opts.LabelColumn, opts.QueryTimeout)
	source.owned = true
	return source, nil
}

func (s *SQLSource) Load(ctx context.Context) (anomaly.Series, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryxContext(ctx, s.query)
	if err != nil {
		return nil, fmt.Errorf("failed to query series: %w", err)
	}
	defer rows.Close()

	series := anomaly.Series{}
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("failed to scan row %d: %w", len(series), err)
		}

		if s.labelColumn != "" {
			if label, ok := row[s.labelColumn]; ok {
				delete(row, s.labelColumn)
				row["label"] = asText(label)
			}
		}

		point, err := toPoint(row, true)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(series), err)
		}
		series = append(series, point)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return series, nil
}

// Close releases the connection when the source opened it itself
func (s *SQLSource) Close() error {
	if !s.owned || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLSource) String() string {
	return "sql:" + s.db.DriverName()
}

func asText(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
