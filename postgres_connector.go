package dbconnector

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

type PostgresConnector struct {
	baseConnector
}

var postgresDialect = dialect{
	name:        "postgres",
	maxSegments: 2,
	quote:       func(s string) string { return "\"" + s + "\"" },
	aggregate: func(fn AggregateFunc, col string) string {
		return fmt.Sprintf("%s(%s)::double precision", strings.ToUpper(string(fn)), col)
	},
	series: func(table, ts, val string) string {
		return fmt.Sprintf("SELECT %s, %s::double precision FROM %s WHERE %s >= $1 AND %s IS NOT NULL ORDER BY %s DESC LIMIT $2", ts, val, table, ts, val, ts)
	},
	window: func(table, ts, val string) string {
		return fmt.Sprintf("SELECT %s, %s::double precision FROM %s WHERE %s >= $1 AND %s IS NOT NULL ORDER BY %s", ts, val, table, ts, val, ts)
	},
	since: "$1",
}

func newPostgresConnector(cfg ConnectionConfig) (*PostgresConnector, error) {
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode)
	db, err := openDatabase("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	return &PostgresConnector{baseConnector{cfg: cfg, db: db, dialect: postgresDialect}}, nil
}

func (c *PostgresConnector) TestConnection(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (c *PostgresConnector) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_type IN ('BASE TABLE', 'VIEW') ORDER BY table_name")
	if err != nil {
		return nil, fmt.Errorf("list postgres tables: %w", err)
	}
	defer rows.Close()
	results := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan postgres table name: %w", err)
		}
		results = append(results, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate postgres tables: %w", err)
	}
	return results, nil
}

func (c *PostgresConnector) DescribeTable(ctx context.Context, table string) (*TableSchema, error) {
	schema, name, err := splitPostgresTable(table)
	if err != nil {
		return nil, err
	}
	query := "SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 ORDER BY ordinal_position"
	args := []any{name}
	if schema != "" {
		query = "SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = $2 AND table_name = $1 ORDER BY ordinal_position"
		args = append(args, schema)
	}
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query postgres columns: %w", err)
	}
	defer rows.Close()
	columns := []ColumnInfo{}
	for rows.Next() {
		var colName, dataType, isNullable string
		if err := rows.Scan(&colName, &dataType, &isNullable); err != nil {
			return nil, fmt.Errorf("scan postgres column: %w", err)
		}
		columns = append(columns, ColumnInfo{
			Name:     colName,
			Type:     dataType,
			Nullable: strings.EqualFold(isNullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate postgres columns: %w", err)
	}
	return &TableSchema{Columns: columns}, nil
}

// splitPostgresTable returns an empty schema for unqualified names so the
// lookup follows the connection's search path.
func splitPostgresTable(table string) (string, string, error) {
	_, parts, err := quoteQualified(table, postgresDialect.maxSegments, postgresDialect.quote)
	if err != nil {
		return "", "", fmt.Errorf("invalid postgres table: %w", err)
	}
	if len(parts) == 1 {
		return "", parts[0], nil
	}
	return parts[0], parts[1], nil
}
