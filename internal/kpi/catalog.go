package kpi

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	dbconnector "kpiwatch-backend"
	"kpiwatch-backend/internal/alerts"
	"kpiwatch-backend/internal/security"
)

const (
	DefaultTimestampColumn = "timestamp"
	defaultSchemaTTL       = 5 * time.Minute
)

type Options struct {
	Allowlist       security.Allowlist
	Limits          security.Limits
	TimestampColumn string
	SchemaTTL       time.Duration
	Now             func() time.Time
}

// Catalog resolves dataset and metric names against the live table schema
// before any value query is built, then delegates to the backend.
type Catalog struct {
	backend   Backend
	allowlist security.Allowlist
	limits    security.Limits
	tsColumn  string
	ttl       time.Duration
	now       func() time.Time

	mu      sync.Mutex
	schemas map[string]cachedSchema
}

type cachedSchema struct {
	schema  *dbconnector.TableSchema
	expires time.Time
}

type target struct {
	table     string
	value     string
	timestamp string
}

func NewCatalog(backend Backend, opts Options) *Catalog {
	if opts.TimestampColumn == "" {
		opts.TimestampColumn = DefaultTimestampColumn
	}
	if opts.SchemaTTL <= 0 {
		opts.SchemaTTL = defaultSchemaTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Limits == (security.Limits{}) {
		opts.Limits = security.DefaultLimits()
	}
	return &Catalog{
		backend:   backend,
		allowlist: opts.Allowlist,
		limits:    opts.Limits,
		tsColumn:  opts.TimestampColumn,
		ttl:       opts.SchemaTTL,
		now:       opts.Now,
		schemas:   map[string]cachedSchema{},
	}
}

func (c *Catalog) Aggregate(ctx context.Context, q Query, agg alerts.Aggregation) (float64, error) {
	if !agg.Valid() {
		return 0, alerts.Invalid("aggregation", "unsupported aggregation %q", agg)
	}
	tgt, err := c.resolve(ctx, q)
	if err != nil {
		return 0, err
	}
	ctx, cancel := c.queryContext(ctx)
	defer cancel()
	res, err := c.backend.Aggregate(ctx, dbconnector.AggregateRequest{
		Table:           tgt.table,
		ValueColumn:     tgt.value,
		TimestampColumn: tgt.timestamp,
		Func:            dbconnector.AggregateFunc(agg),
		Since:           c.since(q.Window),
	})
	if err != nil {
		return 0, &alerts.DataSourceError{Op: "aggregate " + q.Metric, Err: err}
	}
	if !res.Valid {
		return 0, &alerts.NoDataError{Metric: q.Metric, Dataset: q.Dataset, Window: string(q.Window)}
	}
	return res.Value, nil
}

func (c *Catalog) Sample(ctx context.Context, q Query) ([]Point, error) {
	tgt, err := c.resolve(ctx, q)
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if q.All {
		limit = 0
	} else if limit <= 0 || (c.limits.MaxSampleRows > 0 && limit > c.limits.MaxSampleRows) {
		limit = c.limits.MaxSampleRows
	}
	ctx, cancel := c.queryContext(ctx)
	defer cancel()
	points, err := c.backend.FetchSeries(ctx, dbconnector.SeriesRequest{
		Table:           tgt.table,
		ValueColumn:     tgt.value,
		TimestampColumn: tgt.timestamp,
		Since:           c.since(q.Window),
		Limit:           limit,
		All:             q.All,
	})
	if err != nil {
		return nil, &alerts.DataSourceError{Op: "sample " + q.Metric, Err: err}
	}
	return points, nil
}

// Datasets lists the tables visible through the allowlist, sorted by name.
func (c *Catalog) Datasets(ctx context.Context) ([]string, error) {
	ctx, cancel := c.queryContext(ctx)
	defer cancel()
	tables, err := c.backend.ListTables(ctx)
	if err != nil {
		return nil, &alerts.DataSourceError{Op: "list datasets", Err: err}
	}
	out := []string{}
	for _, table := range tables {
		if security.IsSafeQualifiedIdentifier(table) && c.allowlist.AllowsTable(table) {
			out = append(out, table)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Columns returns the dataset's columns other than the timestamp column,
// which are the KPIs an alert can watch.
func (c *Catalog) Columns(ctx context.Context, dataset string) ([]dbconnector.ColumnInfo, error) {
	dataset = strings.TrimSpace(dataset)
	if !security.IsSafeQualifiedIdentifier(dataset) {
		return nil, alerts.Invalid("dataset_name", "invalid identifier %q", dataset)
	}
	if !c.allowlist.AllowsTable(dataset) {
		return nil, alerts.Invalid("dataset_name", "dataset %q is not allowed", dataset)
	}
	schema, err := c.describe(ctx, dataset)
	if err != nil {
		return nil, err
	}
	if len(schema.Columns) == 0 {
		return nil, &alerts.NotFoundError{Kind: "dataset", ID: dataset}
	}
	out := []dbconnector.ColumnInfo{}
	for _, col := range schema.Columns {
		if strings.EqualFold(col.Name, c.tsColumn) {
			continue
		}
		out = append(out, col)
	}
	return out, nil
}

// Forget drops the cached schema of a dataset, or all of them when dataset is empty.
func (c *Catalog) Forget(dataset string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dataset == "" {
		c.schemas = map[string]cachedSchema{}
		return
	}
	delete(c.schemas, strings.ToLower(dataset))
}

func (c *Catalog) resolve(ctx context.Context, q Query) (target, error) {
	dataset := strings.TrimSpace(q.Dataset)
	metric := strings.TrimSpace(q.Metric)
	if !security.IsSafeQualifiedIdentifier(dataset) {
		return target{}, alerts.Invalid("dataset_name", "invalid identifier %q", q.Dataset)
	}
	if !c.allowlist.AllowsTable(dataset) {
		return target{}, alerts.Invalid("dataset_name", "dataset %q is not allowed", q.Dataset)
	}
	if !security.IsSafeIdentifier(metric) {
		return target{}, alerts.Invalid("metric", "invalid identifier %q", q.Metric)
	}
	if q.Window != "" && !q.Window.Valid() {
		return target{}, alerts.Invalid("time_window", "unsupported time window %q", q.Window)
	}
	schema, err := c.describe(ctx, dataset)
	if err != nil {
		return target{}, err
	}
	if len(schema.Columns) == 0 {
		return target{}, &alerts.NoDataError{Metric: metric, Dataset: dataset, Window: string(q.Window)}
	}
	valueCol, ok := schema.Lookup(metric)
	if !ok {
		return target{}, &alerts.NoDataError{Metric: metric, Dataset: dataset, Window: string(q.Window)}
	}
	tsCol, ok := schema.Lookup(c.tsColumn)
	if !ok {
		return target{}, alerts.Invalid("dataset_name", "dataset %q has no %q column", dataset, c.tsColumn)
	}
	return target{table: dataset, value: valueCol.Name, timestamp: tsCol.Name}, nil
}

func (c *Catalog) describe(ctx context.Context, dataset string) (*dbconnector.TableSchema, error) {
	key := strings.ToLower(dataset)
	now := c.now()
	c.mu.Lock()
	cached, ok := c.schemas[key]
	c.mu.Unlock()
	if ok && now.Before(cached.expires) {
		return cached.schema, nil
	}
	ctx, cancel := c.queryContext(ctx)
	defer cancel()
	schema, err := c.backend.DescribeTable(ctx, dataset)
	if err != nil {
		return nil, &alerts.DataSourceError{Op: fmt.Sprintf("describe %s", dataset), Err: err}
	}
	if schema == nil {
		schema = &dbconnector.TableSchema{}
	}
	// Missing tables are not cached so a freshly created dataset is picked up.
	if len(schema.Columns) > 0 {
		c.mu.Lock()
		c.schemas[key] = cachedSchema{schema: schema, expires: now.Add(c.ttl)}
		c.mu.Unlock()
	}
	return schema, nil
}

func (c *Catalog) since(window alerts.TimeWindow) time.Time {
	if window == "" {
		return epoch
	}
	return c.now().Add(-window.Duration()).UTC()
}

func (c *Catalog) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.limits.MaxQueryDuration <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.limits.MaxQueryDuration)
}
