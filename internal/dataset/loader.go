package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marcboeker/go-duckdb"
)

// DefaultMaxRows bounds how many rows are kept in memory per upload.
const DefaultMaxRows = 100_000

// ErrEmpty is returned for a file without any columns.
var ErrEmpty = errors.New("csv file is empty")

// ParseError reports a file that could not be read as CSV.
type ParseError struct {
	Name string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.Name, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Config configures a Loader.
type Config struct {
	MaxRows int
	// TempDir receives uploads streamed through Load. Empty means os.TempDir.
	TempDir string
	Logger  *slog.Logger
}

// Loader parses CSV files with DuckDB's read_csv_auto, which infers column
// types and handles quoting and delimiters.
type Loader struct {
	db      *sql.DB
	maxRows int
	tempDir string
	logger  *slog.Logger
}

// NewLoader opens an in-memory DuckDB database for parsing.
func NewLoader(cfg Config) (*Loader, error) {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}

	return &Loader{db: db, maxRows: cfg.MaxRows, tempDir: cfg.TempDir, logger: cfg.Logger}, nil
}

// Close releases the database.
func (l *Loader) Close() error {
	return l.db.Close()
}

// Load parses CSV content read from r. name is the client-side file name and
// only labels the dataset.
func (l *Loader) Load(ctx context.Context, r io.Reader, name string) (*Dataset, error) {
	if l.tempDir != "" {
		if err := os.MkdirAll(l.tempDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(l.tempDir, "upload-*.csv")
	if err != nil {
		return nil, fmt.Errorf("failed to buffer upload: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("failed to buffer upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to buffer upload: %w", err)
	}

	return l.load(ctx, tmp.Name(), name)
}

// LoadFile parses the CSV file at path.
func (l *Loader) LoadFile(ctx context.Context, path string) (*Dataset, error) {
	return l.load(ctx, path, filepath.Base(path))
}

func (l *Loader) load(ctx context.Context, path, name string) (*Dataset, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, &ParseError{Name: name, Err: err}
	}
	if info.Size() == 0 {
		return nil, &ParseError{Name: name, Err: ErrEmpty}
	}

	query := fmt.Sprintf(
		"SELECT * FROM read_csv_auto('%s', header=true) LIMIT %d",
		strings.ReplaceAll(absPath, "'", "''"),
		l.maxRows+1,
	)

	start := time.Now()
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &ParseError{Name: name, Err: err}
	}
	defer func() { _ = rows.Close() }()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, &ParseError{Name: name, Err: err}
	}
	if len(types) == 0 {
		return nil, &ParseError{Name: name, Err: ErrEmpty}
	}

	ds := &Dataset{Name: name, Columns: make([]Column, len(types))}
	for i, ct := range types {
		ds.Columns[i] = Column{Name: ct.Name(), Type: ct.DatabaseTypeName()}
	}

	values := make([]any, len(types))
	ptrs := make([]any, len(types))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if ds.RowCount == l.maxRows {
			ds.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &ParseError{Name: name, Err: err}
		}
		for i, v := range values {
			ds.Columns[i].Values = append(ds.Columns[i].Values, normalize(v))
		}
		ds.RowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, &ParseError{Name: name, Err: err}
	}

	l.logger.Debug("dataset loaded",
		"name", name,
		"columns", len(ds.Columns),
		"rows", ds.RowCount,
		"truncated", ds.Truncated,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return ds, nil
}

// normalize maps driver values onto the small set of Go types the rest of
// the module handles: nil, bool, int64, float64, string and time.Time.
func normalize(v any) any {
	switch val := v.(type) {
	case nil, bool, int64, float64, string, time.Time:
		return val
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case int:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return int64(val) //nolint:gosec // csv integers fit in int64
	case float32:
		return float64(val)
	case []byte:
		return string(val)
	case *big.Int:
		if val.IsInt64() {
			return val.Int64()
		}
		return val.String()
	case duckdb.Decimal:
		return val.Float64()
	default:
		return fmt.Sprint(val)
	}
}
