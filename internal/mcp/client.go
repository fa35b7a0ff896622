package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	dbconnector "kpiwatch-backend"
)

// Client reads KPI data through a remote kpi-rpc server. It satisfies the
// same backend contract as the SQL connectors.
type Client struct {
	Transport Transport
}

func NewClient(transport Transport) *Client {
	return &Client{Transport: transport}
}

func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	var result ListTablesResult
	if err := c.call(ctx, MethodListTables, map[string]any{}, &result); err != nil {
		return nil, err
	}
	if result.Tables == nil {
		result.Tables = []string{}
	}
	return result.Tables, nil
}

func (c *Client) DescribeTable(ctx context.Context, table string) (*dbconnector.TableSchema, error) {
	var result DescribeTableResult
	if err := c.call(ctx, MethodDescribeTable, DescribeTableParams{Table: table}, &result); err != nil {
		return nil, err
	}
	if result.Columns == nil {
		result.Columns = []dbconnector.ColumnInfo{}
	}
	return &dbconnector.TableSchema{Columns: result.Columns}, nil
}

func (c *Client) Aggregate(ctx context.Context, req dbconnector.AggregateRequest) (dbconnector.AggregateResult, error) {
	var result dbconnector.AggregateResult
	err := c.call(ctx, MethodAggregate, AggregateParams{
		Table:           req.Table,
		ValueColumn:     req.ValueColumn,
		TimestampColumn: req.TimestampColumn,
		Agg:             string(req.Func),
		Since:           req.Since.UTC(),
	}, &result)
	return result, err
}

func (c *Client) FetchSeries(ctx context.Context, req dbconnector.SeriesRequest) ([]dbconnector.SeriesPoint, error) {
	var result SeriesResult
	err := c.call(ctx, MethodFetchSeries, SeriesParams{
		Table:           req.Table,
		ValueColumn:     req.ValueColumn,
		TimestampColumn: req.TimestampColumn,
		Since:           req.Since.UTC(),
		Limit:           req.Limit,
		All:             req.All,
	}, &result)
	if err != nil {
		return nil, err
	}
	if result.Points == nil {
		result.Points = []dbconnector.SeriesPoint{}
	}
	return result.Points, nil
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	if c == nil || c.Transport == nil {
		return fmt.Errorf("rpc transport not configured")
	}
	raw, err := c.Transport.Call(ctx, method, params)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}
