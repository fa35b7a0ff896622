package mcp

import (
	"context"
	"sync"

	dbconnector "kpiwatch-backend"
)

// MockBackend serves canned schemas and values. Requests are recorded for assertions.
type MockBackend struct {
	Tables    []string
	Schemas   map[string]*dbconnector.TableSchema
	AggResult dbconnector.AggregateResult
	Points    []dbconnector.SeriesPoint
	Err       error

	mu       sync.Mutex
	Aggs     []dbconnector.AggregateRequest
	Series   []dbconnector.SeriesRequest
	Describe []string
}

func (m *MockBackend) ListTables(ctx context.Context) ([]string, error) {
	return m.Tables, m.Err
}

func (m *MockBackend) DescribeTable(ctx context.Context, table string) (*dbconnector.TableSchema, error) {
	m.mu.Lock()
	m.Describe = append(m.Describe, table)
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if schema, ok := m.Schemas[table]; ok {
		return schema, nil
	}
	return &dbconnector.TableSchema{Columns: []dbconnector.ColumnInfo{}}, nil
}

func (m *MockBackend) Aggregate(ctx context.Context, req dbconnector.AggregateRequest) (dbconnector.AggregateResult, error) {
	m.mu.Lock()
	m.Aggs = append(m.Aggs, req)
	m.mu.Unlock()
	return m.AggResult, m.Err
}

func (m *MockBackend) FetchSeries(ctx context.Context, req dbconnector.SeriesRequest) ([]dbconnector.SeriesPoint, error) {
	m.mu.Lock()
	m.Series = append(m.Series, req)
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Points, nil
}
