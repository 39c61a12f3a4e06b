// Package sqlstore is the database/sql implementation of storage.Repository
// shared by the sqlite, mysql and mssql backends. A Dialect supplies the
// handful of SQL fragments that differ between them.
package sqlstore

import (
	"fmt"
	"strings"
)

// Dialect captures backend-specific SQL.
type Dialect struct {
	// Name prefixes error messages, e.g. "sqlite".
	Name string

	// Bind returns the n-th (1-based) placeholder: "?" or "@p1".
	Bind func(n int) string

	// Ident quotes one identifier.
	Ident func(name string) string

	// Upsert builds the single-statement insert-or-replace of cols into
	// table (already quoted), keyed on cols[0]. Placeholders are bound in
	// cols order.
	Upsert func(table string, cols []string) string

	// Limit returns the clause appended after ORDER BY to cap rows.
	Limit func(n int) string

	// IsDuplicate reports a unique or primary key violation.
	IsDuplicate func(err error) bool
}

// QualifiedName quotes a possibly schema-qualified name part by part.
func (d Dialect) QualifiedName(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.Ident(p)
	}
	return strings.Join(parts, ".")
}

func (d Dialect) binds(from, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = d.Bind(from + i)
	}
	return strings.Join(ph, ", ")
}

func (d Dialect) idents(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = d.Ident(c)
	}
	return strings.Join(q, ", ")
}

// QuestionBind is the "?" placeholder style.
func QuestionBind(int) string { return "?" }

// LimitN is the LIMIT n clause.
func LimitN(n int) string { return fmt.Sprintf("LIMIT %d", n) }

// Placeholders joins bind(1..n) with commas.
func Placeholders(bind func(int) string, n int) string {
	return Dialect{Bind: bind}.binds(1, n)
}

// OnConflictUpsert builds INSERT ... ON CONFLICT (key) DO UPDATE SET
// c = excluded.c, shared by SQLite and PostgreSQL.
func OnConflictUpsert(ident func(string) string, table string, cols []string, placeholders string) string {
	quoted := make([]string, len(cols))
	sets := make([]string, 0, len(cols)-1)
	for i, c := range cols {
		quoted[i] = ident(c)
		if i > 0 {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", quoted[i], quoted[i]))
		}
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table, strings.Join(quoted, ", "), placeholders, quoted[0], strings.Join(sets, ", "),
	)
}
