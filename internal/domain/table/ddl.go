package table

import (
	"fmt"
	"strings"
)

// CreateTableSQL renders an idempotent ClickHouse CREATE TABLE statement.
func (d *Descriptor) CreateTableSQL(database string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE IF NOT EXISTS %s (\n", d.QualifiedName(database))
	for i, c := range d.spec.Columns {
		fmt.Fprintf(&sb, "    %s %s COMMENT '%s'", c.Name, c.Type.SQLType(), escapeQuote(c.Label))
		if i < len(d.spec.Columns)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, ") ENGINE = %s\n", d.spec.Engine)
	fmt.Fprintf(&sb, "PARTITION BY %s\n", d.PartitionBy())
	fmt.Fprintf(&sb, "PRIMARY KEY (%s)\n", strings.Join(d.spec.PrimaryKey, ", "))
	fmt.Fprintf(&sb, "ORDER BY (%s)", strings.Join(d.spec.OrderBy, ", "))
	if d.spec.Comment != "" {
		fmt.Fprintf(&sb, "\nCOMMENT '%s'", escapeQuote(d.spec.Comment))
	}
	return sb.String()
}

// QualifiedName prefixes the table with database when set.
func (d *Descriptor) QualifiedName(database string) string {
	if database == "" {
		return d.spec.Name
	}
	return database + "." + d.spec.Name
}

func escapeQuote(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
