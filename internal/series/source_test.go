package series

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSource_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "points.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,pv\nA,1\nB,2\n"), 0o644))

	source, err := Open(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Equal(t, "file:"+path, source.String())

	s, err := source.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, s, 2)
	assert.Equal(t, "B", s[1].Label)

	// each load is a fresh series value
	again, err := source.Load(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, &s[0], &again[0])
}

func TestFileSource_Errors(t *testing.T) {
	_, err := NewFileSource("missing.json", "").Load(context.Background())
	assert.Error(t, err)

	_, err = NewFileSource("points.txt", "").Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported input format")
}

func TestOpen_Dispatch(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, "", Options{})
	assert.Error(t, err)

	_, err = Open(ctx, "-", Options{})
	assert.Error(t, err)

	_, err = Open(ctx, "ftp://host/file.csv", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported input scheme")

	_, err = Open(ctx, "postgres://localhost/db", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query is required")

	_, err = Open(ctx, "s3://bucket-only", Options{})
	assert.Error(t, err)

	source, err := Open(ctx, "file:///tmp/x.json", Options{})
	require.NoError(t, err)
	assert.Equal(t, "file:/tmp/x.json", source.String())
}

func TestReaderSource(t *testing.T) {
	source := NewReaderSource("stdin", strings.NewReader(`[{"name":"a","pv":1}]`), FormatJSON)
	s, err := source.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, s, 1)
	assert.Equal(t, "stdin", source.String())
}

func TestSQLSource_SQLite(t *testing.T) {
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	db.MustExec(`CREATE TABLE points (seq INTEGER, page TEXT, pv REAL, uv INTEGER)`)
	db.MustExec(`INSERT INTO points VALUES (2, 'B', 10, 5), (1, 'A', 10, 5), (3, 'C', 10, 5), (4, 'D', 100, 5)`)

	source := NewSQLSource(db, `SELECT page, pv, uv FROM points ORDER BY seq`, "page", time.Second)
	s, err := source.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, s, 4)

	assert.Equal(t, "A", s[0].Label)
	assert.Equal(t, "D", s[3].Label)
	assert.Equal(t, 100.0, s[3].Values["pv"])
	assert.Equal(t, 5.0, s[3].Values["uv"])
	_, hasPage := s[0].Values["page"]
	assert.False(t, hasPage)

	assert.NoError(t, source.Close()) // not owned, leaves db open
	assert.NoError(t, db.Ping())
}

func TestOpenSQL_SQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "series.db")

	db, err := sqlx.Open("sqlite", path)
	require.NoError(t, err)
	db.MustExec(`CREATE TABLE points (name TEXT, pv REAL)`)
	db.MustExec(`INSERT INTO points VALUES ('A', 1), ('B', 2)`)
	require.NoError(t, db.Close())

	source, err := Open(context.Background(), "sqlite://"+path, Options{Query: "SELECT name, pv FROM points ORDER BY rowid"})
	require.NoError(t, err)
	defer source.(*SQLSource).Close()

	s, err := source.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, s, 2)
	assert.Equal(t, "A", s[0].Label)
}

func TestSQLSource_PostgresRows(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()

	db := sqlx.NewDb(raw, "postgres")
	rows := sqlmock.NewRows([]string{"name", "pv", "uv"}).
		AddRow("A", []byte("10.5"), int64(3)).
		AddRow("B", 11.0, nil)
	mock.ExpectQuery("SELECT name, pv, uv FROM points").WillReturnRows(rows)

	source := NewSQLSource(db, "SELECT name, pv, uv FROM points ORDER BY ts", "", 0)
	s, err := source.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, s, 2)

	assert.Equal(t, "A", s[0].Label)
	assert.Equal(t, 10.5, s[0].Values["pv"])
	assert.Equal(t, 3.0, s[0].Values["uv"])
	_, hasUV := s[1].Values["uv"]
	assert.False(t, hasUV)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSource_QueryError(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("relation does not exist"))

	source := NewSQLSource(sqlx.NewDb(raw, "postgres"), "SELECT 1", "", time.Second)
	_, err = source.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relation does not exist")
}

type fakeGetter struct {
	objects map[string]string
	input   *s3.GetObjectInput
}

func (f *fakeGetter) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.input = params
	body, ok := f.objects[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestS3Source_Load(t *testing.T) {
	getter := &fakeGetter{objects: map[string]string{
		"metrics/daily/pv.json": `[{"name":"a","pv":1},{"name":"b","pv":2}]`,
	}}

	source := NewS3Source(getter, "metrics", "daily/pv.json", "")
	s, err := source.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, s, 2)
	assert.Equal(t, "daily/pv.json", aws.ToString(getter.input.Key))
	assert.Equal(t, "s3://metrics/daily/pv.json", source.String())

	_, err = NewS3Source(getter, "metrics", "missing.json", "").Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NoSuchKey")
}
