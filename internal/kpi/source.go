package kpi

import (
	"context"
	"time"

	dbconnector "kpiwatch-backend"
	"kpiwatch-backend/internal/alerts"
)

type Point = dbconnector.SeriesPoint

// Query addresses one KPI column of one dataset over a trailing window.
// An empty Window means no lower time bound. All asks for every point of the
// window and bypasses the sample cap; Limit is then ignored.
type Query struct {
	Metric  string
	Dataset string
	Window  alerts.TimeWindow
	Limit   int
	All     bool
}

// Source is the read side the evaluator and the statistics engine depend on.
type Source interface {
	Aggregate(ctx context.Context, q Query, agg alerts.Aggregation) (float64, error)
	// Sample returns the points of the window ordered oldest first.
	Sample(ctx context.Context, q Query) ([]Point, error)
}

// Backend is the raw warehouse access implemented by the SQL connectors and
// the remote RPC client.
type Backend interface {
	ListTables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, table string) (*dbconnector.TableSchema, error)
	Aggregate(ctx context.Context, req dbconnector.AggregateRequest) (dbconnector.AggregateResult, error)
	FetchSeries(ctx context.Context, req dbconnector.SeriesRequest) ([]dbconnector.SeriesPoint, error)
}

// epoch stands in for "no lower bound"; every engine accepts it as a timestamp parameter.
var epoch = time.Unix(0, 0).UTC()
