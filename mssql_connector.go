package dbconnector

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/microsoft/go-mssqldb"
)

type MSSQLConnector struct {
	baseConnector
}

// SQL Server averages integer columns with integer arithmetic, so values are
// cast to FLOAT before aggregation.
var mssqlDialect = dialect{
	name:        "mssql",
	maxSegments: 2,
	quote:       func(s string) string { return "[" + s + "]" },
	aggregate: func(fn AggregateFunc, col string) string {
		return fmt.Sprintf("%s(CAST(%s AS FLOAT))", strings.ToUpper(string(fn)), col)
	},
	series: func(table, ts, val string) string {
		return fmt.Sprintf("SELECT TOP (@p2) %s, CAST(%s AS FLOAT) FROM %s WHERE %s >= @p1 AND %s IS NOT NULL ORDER BY %s DESC", ts, val, table, ts, val, ts)
	},
	window: func(table, ts, val string) string {
		return fmt.Sprintf("SELECT %s, CAST(%s AS FLOAT) FROM %s WHERE %s >= @p1 AND %s IS NOT NULL ORDER BY %s", ts, val, table, ts, val, ts)
	},
	since: "@p1",
}

func newMSSQLConnector(cfg ConnectionConfig) (*MSSQLConnector, error) {
	if cfg.Port == 0 {
		cfg.Port = 1433
	}
	user := url.QueryEscape(cfg.User)
	pass := url.QueryEscape(cfg.Password)
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	encrypt := "true"
	if sslMode == "disable" {
		encrypt = "disable"
	}
	dsn := fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s", user, pass, cfg.Host, cfg.Port, url.QueryEscape(cfg.Database), encrypt)
	db, err := openDatabase("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mssql connection: %w", err)
	}
	return &MSSQLConnector{baseConnector{cfg: cfg, db: db, dialect: mssqlDialect}}, nil
}

func (c *MSSQLConnector) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mssql: %w", err)
	}
	return nil
}

func (c *MSSQLConnector) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT TABLE_SCHEMA, TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_CATALOG = DB_NAME() ORDER BY TABLE_SCHEMA, TABLE_NAME")
	if err != nil {
		return nil, fmt.Errorf("list mssql tables: %w", err)
	}
	defer rows.Close()
	results := []string{}
	for rows.Next() {
		var schema, name string
		if err := rows.Scan(&schema, &name); err != nil {
			return nil, fmt.Errorf("scan mssql table name: %w", err)
		}
		results = append(results, schema+"."+name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mssql tables: %w", err)
	}
	return results, nil
}

func (c *MSSQLConnector) DescribeTable(ctx context.Context, table string) (*TableSchema, error) {
	schema, name, err := parseMSSQLTable(table)
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, "SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_CATALOG = DB_NAME() AND TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2 ORDER BY ORDINAL_POSITION", schema, name)
	if err != nil {
		return nil, fmt.Errorf("query mssql columns: %w", err)
	}
	defer rows.Close()
	columns := []ColumnInfo{}
	for rows.Next() {
		var colName, dataType, isNullable string
		if err := rows.Scan(&colName, &dataType, &isNullable); err != nil {
			return nil, fmt.Errorf("scan mssql column: %w", err)
		}
		columns = append(columns, ColumnInfo{
			Name:     colName,
			Type:     dataType,
			Nullable: strings.EqualFold(isNullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mssql columns: %w", err)
	}
	return &TableSchema{Columns: columns}, nil
}

func parseMSSQLTable(table string) (string, string, error) {
	_, parts, err := quoteQualified(table, mssqlDialect.maxSegments, mssqlDialect.quote)
	if err != nil {
		return "", "", fmt.Errorf("invalid mssql table: %w", err)
	}
	if len(parts) == 1 {
		return "dbo", parts[0], nil
	}
	return parts[0], parts[1], nil
}
