package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/Skryldev/asset-manager/core"
	apperrors "github.com/Skryldev/asset-manager/errors"
)

// SQLite is a Storage backed by a SQLite database.  Tag filters run in SQL;
// metadata predicates are evaluated in Go over the decoded metadata so that
// they behave exactly as in the other backends.
type SQLite struct {
	db  *sql.DB
	log core.Logger
}

// OpenSQLite opens or creates the database named by dsn (a file path or
// ":memory:") and migrates the schema.
func OpenSQLite(ctx context.Context, dsn string, logger core.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "sqlite.open", err)
	}
	// One connection: a single writer, and ":memory:" databases are
	// per-connection.
	db.SetMaxOpenConns(1)
	if logger == nil {
		logger = core.NopLogger()
	}
	s := &SQLite{db: db, log: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "sqlite.migrate", err)
	}
	logger.Info("storage.sqlite.opened", "dsn", dsn)
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		`CREATE TABLE IF NOT EXISTS assets (
			seq      INTEGER PRIMARY KEY AUTOINCREMENT,
			key      TEXT NOT NULL UNIQUE,
			essence  BLOB,
			metadata BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS asset_tags (
			key TEXT NOT NULL,
			tag TEXT NOT NULL,
			PRIMARY KEY (key, tag)
		)`,
		`CREATE INDEX IF NOT EXISTS asset_tags_tag ON asset_tags (tag)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", strings.Fields(stmt)[0], err)
		}
	}
	return nil
}

func (s *SQLite) Set(ctx context.Context, key string, a *core.Asset, tags Tags) error {
	if err := checkAsset("sqlite.set", a); err != nil {
		return err
	}
	md, err := marshalMetadata(a.Metadata())
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "sqlite.set.encode", err)
	}
	return s.inTx(ctx, "sqlite.set", func(tx *sql.Tx) error {
		// The upsert keeps seq, and with it the key's position.
		_, err := tx.ExecContext(ctx, `INSERT INTO assets (key, essence, metadata) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET essence = excluded.essence, metadata = excluded.metadata`,
			key, a.Bytes(), md)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM asset_tags WHERE key = ?`, key); err != nil {
			return err
		}
		for _, tag := range tags.Sorted() {
			if _, err := tx.ExecContext(ctx, `INSERT INTO asset_tags (key, tag) VALUES (?, ?)`, key, tag); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLite) Get(ctx context.Context, key string) (*core.Asset, Tags, error) {
	var essence, raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT essence, metadata FROM assets WHERE key = ?`, key).Scan(&essence, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, keyNotFound("sqlite.get", key)
	}
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CategoryStorage, "sqlite.get", err)
	}
	md, err := unmarshalMetadata(raw)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CategoryStorage, "sqlite.get.decode", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT tag FROM asset_tags WHERE key = ?`, key)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CategoryStorage, "sqlite.get.tags", err)
	}
	tagList, err := scanStrings(rows)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CategoryStorage, "sqlite.get.tags", err)
	}
	return core.NewAsset(essence, md), NewTags(tagList...), nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	return s.inTx(ctx, "sqlite.delete", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE key = ?`, key)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return keyNotFound("sqlite.delete", key)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM asset_tags WHERE key = ?`, key)
		return err
	})
}

func (s *SQLite) Contains(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM assets WHERE key = ?`, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, apperrors.Wrap(apperrors.CategoryStorage, "sqlite.contains", err)
}

func (s *SQLite) Keys(ctx context.Context) ([]string, error) {
	return s.queryKeys(ctx, "sqlite.keys", `SELECT key FROM assets ORDER BY seq`)
}

func (s *SQLite) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets`).Scan(&n)
	return n, apperrors.Wrap(apperrors.CategoryStorage, "sqlite.len", err)
}

func (s *SQLite) Filter(ctx context.Context, p Predicate) ([]string, error) {
	if err := checkPredicate("sqlite.filter", p); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, metadata FROM assets ORDER BY seq`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "sqlite.filter", err)
	}
	defer func() { _ = rows.Close() }()

	out := []string{}
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryStorage, "sqlite.filter", err)
		}
		md, err := unmarshalMetadata(raw)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryStorage, "sqlite.filter.decode", err)
		}
		if p.Match(md) {
			out = append(out, key)
		}
	}
	return out, apperrors.Wrap(apperrors.CategoryStorage, "sqlite.filter", rows.Err())
}

func (s *SQLite) FilterByTags(ctx context.Context, tags Tags, mode TagMatch) ([]string, error) {
	if !mode.valid() {
		return nil, invalidMatch("sqlite.filter_tags", mode)
	}
	query := tags.Sorted()
	switch {
	case len(query) == 0 && mode == MatchAll:
		return s.Keys(ctx)
	case len(query) == 0:
		return []string{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(query)), ", ")
	args := make([]any, 0, len(query)+1)
	for _, tag := range query {
		args = append(args, tag)
	}
	var stmt string
	if mode == MatchAll {
		stmt = `SELECT a.key FROM assets a
			WHERE (SELECT COUNT(*) FROM asset_tags t WHERE t.key = a.key AND t.tag IN (` + placeholders + `)) = ?
			ORDER BY a.seq`
		args = append(args, len(query))
	} else {
		stmt = `SELECT a.key FROM assets a
			WHERE EXISTS (SELECT 1 FROM asset_tags t WHERE t.key = a.key AND t.tag IN (` + placeholders + `))
			ORDER BY a.seq`
	}
	return s.queryKeys(ctx, "sqlite.filter_tags", stmt, args...)
}

func (s *SQLite) Close() error {
	return apperrors.Wrap(apperrors.CategoryStorage, "sqlite.close", s.db.Close())
}

func (s *SQLite) queryKeys(ctx context.Context, op, stmt string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, op, err)
	}
	keys, err := scanStrings(rows)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, op, err)
	}
	return keys, nil
}

func (s *SQLite) inTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if apperrors.CategoryOf(err) != "" {
			return err
		}
		return apperrors.Wrap(apperrors.CategoryStorage, op, err)
	}
	return apperrors.Wrap(apperrors.CategoryStorage, op, tx.Commit())
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer func() { _ = rows.Close() }()
	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

var _ Storage[string] = (*SQLite)(nil)
