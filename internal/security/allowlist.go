package security

import "strings"

// Allowlist restricts which datasets alerts may read. An empty list allows every table.
type Allowlist struct {
	Schemas []string
	Tables  []string
}

func (a Allowlist) AllowsTable(table string) bool {
	schema, name := splitQualified(table)
	if schema != "" && len(a.Schemas) > 0 && !containsFold(a.Schemas, schema) {
		return false
	}
	if len(a.Tables) == 0 {
		return true
	}
	return containsFold(a.Tables, table) || (schema != "" && containsFold(a.Tables, name))
}

func splitQualified(table string) (string, string) {
	if i := strings.LastIndex(table, "."); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}

func containsFold(items []string, value string) bool {
	for _, item := range items {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}
