package dbconnector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	defaultSeriesLimit = 100
	maxSeriesLimit     = 10000
)

// DbConnector reads KPI time series out of a customer warehouse table.
type DbConnector interface {
	TestConnection(ctx context.Context) error

	ListTables(ctx context.Context) ([]string, error)

	DescribeTable(ctx context.Context, table string) (*TableSchema, error)

	// Aggregate computes one aggregate of a value column over the rows whose
	// timestamp is at or after Since. Null values are ignored.
	Aggregate(ctx context.Context, req AggregateRequest) (AggregateResult, error)

	// FetchSeries returns the most recent Limit non-null points at or after
	// Since, ordered oldest first.
	FetchSeries(ctx context.Context, req SeriesRequest) ([]SeriesPoint, error)

	Close() error
}

type ConnectionConfig struct {
	Type     string // mysql | postgres | mssql
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type ColumnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type TableSchema struct {
	Columns []ColumnInfo `json:"columns"`
}

// HasColumn reports whether the table carries a column with the given name.
// Postgres folds unquoted identifiers to lower case so the match is case-insensitive.
func (s *TableSchema) HasColumn(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// Lookup returns the column as the database spells it.
func (s *TableSchema) Lookup(name string) (ColumnInfo, bool) {
	if s == nil {
		return ColumnInfo{}, false
	}
	for _, col := range s.Columns {
		if col.Name == name {
			return col, true
		}
	}
	for _, col := range s.Columns {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return ColumnInfo{}, false
}

type AggregateFunc string

const (
	AggAvg AggregateFunc = "avg"
	AggSum AggregateFunc = "sum"
	AggMax AggregateFunc = "max"
	AggMin AggregateFunc = "min"
)

func (f AggregateFunc) Valid() bool {
	switch f {
	case AggAvg, AggSum, AggMax, AggMin:
		return true
	}
	return false
}

type AggregateRequest struct {
	Table           string
	ValueColumn     string
	TimestampColumn string
	Func            AggregateFunc
	Since           time.Time
}

// AggregateResult carries the aggregate and the number of rows it covered.
// Valid is false when no row matched.
type AggregateResult struct {
	Value float64 `json:"value"`
	Count int64   `json:"count"`
	Valid bool    `json:"valid"`
}

// SeriesRequest selects points at or after Since. All returns every point of
// the window oldest first and ignores Limit.
type SeriesRequest struct {
	Table           string
	ValueColumn     string
	TimestampColumn string
	Since           time.Time
	Limit           int
	All             bool
}

type SeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// dialect holds the per-engine SQL differences.
type dialect struct {
	name        string
	maxSegments int
	quote       func(string) string
	// aggregate renders the aggregate expression for an already quoted column.
	aggregate func(fn AggregateFunc, col string) string
	// series renders the bounded "newest first" query. Parameters are since, limit.
	series func(table, ts, val string) string
	// window renders the unbounded oldest-first query. The only parameter is since.
	window func(table, ts, val string) string
	// since renders the placeholder for the window start parameter.
	since string
}

type baseConnector struct {
	cfg     ConnectionConfig
	db      *sql.DB
	dialect dialect
}

func (b *baseConnector) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *baseConnector) Aggregate(ctx context.Context, req AggregateRequest) (AggregateResult, error) {
	d := b.dialect
	if !req.Func.Valid() {
		return AggregateResult{}, fmt.Errorf("unsupported aggregate %q", req.Func)
	}
	table, val, ts, err := quoteSeriesTarget(d, req.Table, req.ValueColumn, req.TimestampColumn)
	if err != nil {
		return AggregateResult{}, err
	}
	query := fmt.Sprintf("SELECT %s, COUNT(%s) FROM %s WHERE %s >= %s AND %s IS NOT NULL",
		d.aggregate(req.Func, val), val, table, ts, d.since, val)
	var value sql.NullFloat64
	var count int64
	if err := b.db.QueryRowContext(ctx, query, req.Since.UTC()).Scan(&value, &count); err != nil {
		return AggregateResult{}, fmt.Errorf("query %s aggregate: %w", d.name, err)
	}
	if !value.Valid || count == 0 {
		return AggregateResult{Count: count}, nil
	}
	return AggregateResult{Value: value.Float64, Count: count, Valid: true}, nil
}

func (b *baseConnector) FetchSeries(ctx context.Context, req SeriesRequest) ([]SeriesPoint, error) {
	d := b.dialect
	table, val, ts, err := quoteSeriesTarget(d, req.Table, req.ValueColumn, req.TimestampColumn)
	if err != nil {
		return nil, err
	}
	query, args := d.series(table, ts, val), []any{req.Since.UTC(), normalizeSeriesLimit(req.Limit)}
	if req.All {
		query, args = d.window(table, ts, val), []any{req.Since.UTC()}
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s series: %w", d.name, err)
	}
	defer rows.Close()
	points := []SeriesPoint{}
	for rows.Next() {
		var rawTS any
		var value sql.NullFloat64
		if err := rows.Scan(&rawTS, &value); err != nil {
			return nil, fmt.Errorf("scan %s series: %w", d.name, err)
		}
		if !value.Valid {
			continue
		}
		at, ok := toTime(rawTS)
		if !ok {
			return nil, fmt.Errorf("scan %s series: column %q is not a timestamp", d.name, req.TimestampColumn)
		}
		points = append(points, SeriesPoint{Timestamp: at, Value: value.Float64})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s series: %w", d.name, err)
	}
	if !req.All {
		reverse(points)
	}
	return points, nil
}

func quoteSeriesTarget(d dialect, table, value, ts string) (string, string, string, error) {
	quotedTable, _, err := quoteQualified(table, d.maxSegments, d.quote)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid %s table: %w", d.name, err)
	}
	cols, err := quoteColumns([]string{value, ts}, d.quote)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid %s column: %w", d.name, err)
	}
	return quotedTable, cols[0], cols[1], nil
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

func splitIdentifier(ident string) ([]string, error) {
	trimmed := strings.TrimSpace(ident)
	if trimmed == "" {
		return nil, errors.New("identifier is empty")
	}
	parts := strings.Split(trimmed, ".")
	for _, part := range parts {
		if part == "" {
			return nil, errors.New("identifier contains empty segment")
		}
		if !identPattern.MatchString(part) {
			return nil, fmt.Errorf("identifier segment %q is invalid", part)
		}
	}
	return parts, nil
}

func quoteQualified(ident string, maxSegments int, quote func(string) string) (string, []string, error) {
	parts, err := splitIdentifier(ident)
	if err != nil {
		return "", nil, err
	}
	if maxSegments > 0 && len(parts) > maxSegments {
		return "", nil, fmt.Errorf("identifier %q has too many segments", ident)
	}
	quoted := make([]string, len(parts))
	for i, part := range parts {
		quoted[i] = quote(part)
	}
	return strings.Join(quoted, "."), parts, nil
}

func quoteColumns(names []string, quote func(string) string) ([]string, error) {
	if len(names) == 0 {
		return nil, errors.New("no columns provided")
	}
	quoted := make([]string, len(names))
	for i, name := range names {
		parts, err := splitIdentifier(name)
		if err != nil || len(parts) != 1 {
			return nil, fmt.Errorf("invalid column name %q", name)
		}
		quoted[i] = quote(parts[0])
	}
	return quoted, nil
}

func normalizeSeriesLimit(limit int) int {
	if limit <= 0 {
		return defaultSeriesLimit
	}
	if limit > maxSeriesLimit {
		return maxSeriesLimit
	}
	return limit
}

func reverse[T any](items []T) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	case int64:
		return time.Unix(t, 0).UTC(), true
	default:
		return time.Time{}, false
	}
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), true
	}
	return time.Time{}, false
}
