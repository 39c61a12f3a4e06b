// Package mysql implements storage.Repository on MySQL/MariaDB through
// go-sql-driver/mysql and the shared sqlstore queries.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"catalogimport/internal/storage/sqlstore"

	"github.com/go-sql-driver/mysql"
)

// erDupEntry is ER_DUP_ENTRY.
const erDupEntry = 1062

// Config holds MySQL repository configuration.
type Config struct {
	DSN           string // go-sql-driver DSN, e.g. "user:pass@tcp(host:3306)/catalog"
	ProductsTable string
	UploadsTable  string
}

// Repository is a MySQL-backed implementation of storage.Repository.
type Repository struct {
	*sqlstore.Store
	cfg Config
}

var dialect = sqlstore.Dialect{
	Name:        "mysql",
	Bind:        sqlstore.QuestionBind,
	Ident:       ident,
	Upsert:      upsertStatement,
	Limit:       sqlstore.LimitN,
	IsDuplicate: isDupEntry,
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
//
// ClientFoundRows is forced on so an UPDATE that rewrites identical values
// still reports the row as affected.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	dsn, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql dsn: %w", err)
	}
	dsn.ClientFoundRows = true

	connector, err := mysql.NewConnector(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetConnMaxLifetime(3 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("mysql: ping: %w", err)
	}
	close := func() { _ = db.Close() }
	return &Repository{
		Store: sqlstore.New(db, dialect, cfg.ProductsTable, cfg.UploadsTable),
		cfg:   cfg,
	}, close, nil
}

// upsertStatement renders INSERT ... ON DUPLICATE KEY UPDATE over every
// non-key column.
func upsertStatement(table string, cols []string) string {
	quoted := make([]string, len(cols))
	sets := make([]string, 0, len(cols)-1)
	for i, c := range cols {
		quoted[i] = ident(c)
		if i > 0 {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", quoted[i], quoted[i]))
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		table, strings.Join(quoted, ", "),
		sqlstore.Placeholders(sqlstore.QuestionBind, len(cols)),
		strings.Join(sets, ", "))
}

// ident backtick-quotes a MySQL identifier.
func ident(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }

func isDupEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == erDupEntry
}
