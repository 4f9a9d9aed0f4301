// Package publishqueue implements the durable, ordered publish queue: a
// sqlite-backed table of (ledger, HAS-text) rows plus the in-memory
// bucket-reference multiset that pins every bucket a queued HAS still
// needs.
package publishqueue

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
)

//go:embed migrations/*.sql
var migrations embed.FS

const tableName = "publishqueue"

// OpenSQLiteDB opens (creating if necessary) a WAL-mode sqlite database at
// dbFilePath and runs the publishqueue schema migrations against it.
func OpenSQLiteDB(dbFilePath string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_wal_autocheckpoint=0&_synchronous=NORMAL", dbFilePath))
	if err != nil {
		return nil, fmt.Errorf("opening publish queue db: %w", err)
	}
	if err := runMigrations(db.DB); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running publish queue migrations: %w", err)
	}
	return db, nil
}

func runMigrations(db *sql.DB) error {
	src := &migrate.AssetMigrationSource{
		Asset: migrations.ReadFile,
		AssetDir: func() func(string) ([]string, error) {
			return func(path string) ([]string, error) {
				entries, err := migrations.ReadDir(path)
				if err != nil {
					return nil, err
				}
				names := make([]string, 0, len(entries))
				for _, e := range entries {
					names = append(names, e.Name())
				}
				return names, nil
			}
		}(),
		Dir: "migrations",
	}
	_, err := migrate.ExecMax(db, "sqlite3", src, migrate.Up, 0)
	return err
}

func selectAll() (string, []interface{}, error) {
	return sq.Select("ledger", "state").From(tableName).OrderBy("ledger ASC").ToSql()
}

func insertRow(ledger uint32, state string) (string, []interface{}, error) {
	return sq.Insert(tableName).Columns("ledger", "state").Values(ledger, state).ToSql()
}

func deleteRow(ledger uint32) (string, []interface{}, error) {
	return sq.Delete(tableName).Where(sq.Eq{"ledger": ledger}).ToSql()
}

type row struct {
	Ledger uint32 `db:"ledger"`
	State  string `db:"state"`
}

func readRows(ctx context.Context, q sqlx.QueryerContext) ([]row, error) {
	sqlStr, args, err := selectAll()
	if err != nil {
		return nil, err
	}
	var rows []row
	if err := sqlx.SelectContext(ctx, q, &rows, sqlStr, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
