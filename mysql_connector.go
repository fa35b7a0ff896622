package dbconnector

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

type MySQLConnector struct {
	baseConnector
}

var mysqlDialect = dialect{
	name:        "mysql",
	maxSegments: 1,
	quote:       func(s string) string { return "`" + s + "`" },
	// CAST(... AS DOUBLE) needs 8.0.17; adding 0e0 coerces to DOUBLE on every version.
	aggregate: func(fn AggregateFunc, col string) string {
		return fmt.Sprintf("%s(%s) + 0e0", strings.ToUpper(string(fn)), col)
	},
	series: func(table, ts, val string) string {
		return fmt.Sprintf("SELECT %s, %s + 0e0 FROM %s WHERE %s >= ? AND %s IS NOT NULL ORDER BY %s DESC LIMIT ?", ts, val, table, ts, val, ts)
	},
	window: func(table, ts, val string) string {
		return fmt.Sprintf("SELECT %s, %s + 0e0 FROM %s WHERE %s >= ? AND %s IS NOT NULL ORDER BY %s", ts, val, table, ts, val, ts)
	},
	since: "?",
}

func newMySQLConnector(cfg ConnectionConfig) (*MySQLConnector, error) {
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	if sslMode == "disable" {
		dsn += "&tls=false"
	} else if sslMode != "" {
		dsn += "&tls=true"
	}
	db, err := openDatabase("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	return &MySQLConnector{baseConnector{cfg: cfg, db: db, dialect: mysqlDialect}}, nil
}

func (c *MySQLConnector) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	return nil
}

func (c *MySQLConnector) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() ORDER BY table_name")
	if err != nil {
		return nil, fmt.Errorf("list mysql tables: %w", err)
	}
	defer rows.Close()
	results := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan mysql table name: %w", err)
		}
		results = append(results, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mysql tables: %w", err)
	}
	return results, nil
}

func (c *MySQLConnector) DescribeTable(ctx context.Context, table string) (*TableSchema, error) {
	if _, _, err := quoteQualified(table, mysqlDialect.maxSegments, mysqlDialect.quote); err != nil {
		return nil, fmt.Errorf("invalid mysql table: %w", err)
	}
	rows, err := c.db.QueryContext(ctx, "SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ? ORDER BY ordinal_position", table)
	if err != nil {
		return nil, fmt.Errorf("query mysql columns: %w", err)
	}
	defer rows.Close()
	columns := []ColumnInfo{}
	for rows.Next() {
		var name, dataType, isNullable string
		if err := rows.Scan(&name, &dataType, &isNullable); err != nil {
			return nil, fmt.Errorf("scan mysql column: %w", err)
		}
		columns = append(columns, ColumnInfo{
			Name:     name,
			Type:     dataType,
			Nullable: strings.EqualFold(isNullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mysql columns: %w", err)
	}
	return &TableSchema{Columns: columns}, nil
}
