// Package mssql implements storage.Repository on Microsoft SQL Server using
// go-mssqldb. Products are upserted with a single MERGE under HOLDLOCK so
// concurrent writers of the same key serialize.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"catalogimport/internal/storage/sqlstore"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"
)

// Unique index and primary key violation numbers.
const (
	errUniqueIndex = 2601
	errPrimaryKey  = 2627
)

// Config holds MSSQL repository configuration.
type Config struct {
	DSN           string
	ProductsTable string // e.g. "dbo.products"
	UploadsTable  string
}

// Repository is an MSSQL-backed implementation of storage.Repository.
type Repository struct {
	*sqlstore.Store
	cfg Config
}

var dialect = sqlstore.Dialect{
	Name:        "mssql",
	Bind:        atBind,
	Ident:       msIdent,
	Upsert:      mergeStatement,
	Limit:       fetchNext,
	IsDuplicate: isDuplicateKey,
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	close := func() { _ = db.Close() }
	return &Repository{
		Store: sqlstore.New(db, dialect, cfg.ProductsTable, cfg.UploadsTable),
		cfg:   cfg,
	}, close, nil
}

func atBind(n int) string { return fmt.Sprintf("@p%d", n) }

// fetchNext caps rows; SQL Server requires the preceding ORDER BY.
func fetchNext(n int) string { return fmt.Sprintf("OFFSET 0 ROWS FETCH NEXT %d ROWS ONLY", n) }

// mergeStatement renders MERGE ... WITH (HOLDLOCK) keyed on cols[0].
func mergeStatement(table string, cols []string) string {
	var (
		src    = make([]string, len(cols))
		quoted = make([]string, len(cols))
		vals   = make([]string, len(cols))
		sets   = make([]string, 0, len(cols)-1)
	)
	for i, c := range cols {
		q := msIdent(c)
		quoted[i] = q
		src[i] = fmt.Sprintf("%s AS %s", atBind(i+1), q)
		vals[i] = "S." + q
		if i > 0 {
			sets = append(sets, fmt.Sprintf("T.%s = S.%s", q, q))
		}
	}
	key := quoted[0]
	return fmt.Sprintf(
		"MERGE INTO %s WITH (HOLDLOCK) AS T "+
			"USING (SELECT %s) AS S ON T.%s = S.%s "+
			"WHEN MATCHED THEN UPDATE SET %s "+
			"WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);",
		table, strings.Join(src, ", "), key, key,
		strings.Join(sets, ", "),
		strings.Join(quoted, ", "), strings.Join(vals, ", "),
	)
}

// msIdent safely quotes a single identifier segment for SQL Server.
func msIdent(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

func isDuplicateKey(err error) bool {
	var num int32
	var v mssql.Error
	var p *mssql.Error
	switch {
	case errors.As(err, &v):
		num = v.Number
	case errors.As(err, &p):
		num = p.Number
	default:
		return false
	}
	return num == errUniqueIndex || num == errPrimaryKey
}
