package mcp

import (
	"time"

	dbconnector "kpiwatch-backend"
)

const (
	MethodListTables    = "kpi.list_tables"
	MethodDescribeTable = "kpi.describe_table"
	MethodAggregate     = "kpi.aggregate"
	MethodFetchSeries   = "kpi.fetch_series"
)

type ListTablesResult struct {
	Tables []string `json:"tables"`
}

type DescribeTableParams struct {
	Table string `json:"table"`
}

type DescribeTableResult struct {
	Columns []dbconnector.ColumnInfo `json:"columns"`
}

type AggregateParams struct {
	Table           string    `json:"table"`
	ValueColumn     string    `json:"valueColumn"`
	TimestampColumn string    `json:"timestampColumn"`
	Agg             string    `json:"agg"`
	Since           time.Time `json:"since"`
}

type SeriesParams struct {
	Table           string    `json:"table"`
	ValueColumn     string    `json:"valueColumn"`
	TimestampColumn string    `json:"timestampColumn"`
	Since           time.Time `json:"since"`
	Limit           int       `json:"limit"`
	All             bool      `json:"all,omitempty"`
}

type SeriesResult struct {
	Points []dbconnector.SeriesPoint `json:"points"`
}
