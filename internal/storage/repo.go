package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

func (s *SQLStore) Get(ctx context.Context, key string) (string, error) {
	q := s.sql.Select("entry_value").
		From("kv_entries").
		Where(sq.Eq{"entry_key": key})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return "", fmt.Errorf("build get entry query: %w", err)
	}

	var value string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get entry: %w", err)
	}
	return value, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	q := s.sql.Insert("kv_entries").
		Columns("entry_key", "entry_value", "updated_at").
		Values(key, value, nowExpr(s.driver)).
		Suffix("ON CONFLICT(entry_key) DO UPDATE SET entry_value=excluded.entry_value, updated_at=excluded.updated_at")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build set entry query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("set entry: %w", err)
	}
	return nil
}

// Delete is a no-op for missing keys.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	q := s.sql.Delete("kv_entries").Where(sq.Eq{"entry_key": key})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete entry query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

// Keys lists stored keys with the given prefix in key order.
func (s *SQLStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	q := s.sql.Select("entry_key").
		From("kv_entries").
		Where(sq.Like{"entry_key": prefix + "%"}).
		OrderBy("entry_key ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list keys query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key row: %w", err)
		}
		// LIKE treats _ and % in the prefix as wildcards.
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate key rows: %w", err)
	}
	return out, nil
}

func nowExpr(driver string) any {
	if driver == "postgres" {
		return sq.Expr("NOW()")
	}
	return sq.Expr("CURRENT_TIMESTAMP")
}
