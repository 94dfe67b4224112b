package storage

import (
	"database/sql"
	"fmt"
)

// maxInArgs bounds IN-list sizes; SQLite caps bound parameters per statement.
const maxInArgs = 500

// collect scans every row with scan and closes rows.
func collect[T any](rows *sql.Rows, scan func(*sql.Rows) (T, error)) ([]T, error) {
	defer func() { _ = rows.Close() }()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// chunks splits vals into slices of at most maxInArgs.
func chunks[T any](vals []T) [][]T {
	var out [][]T
	for len(vals) > maxInArgs {
		out = append(out, vals[:maxInArgs])
		vals = vals[maxInArgs:]
	}
	if len(vals) > 0 {
		out = append(out, vals)
	}
	return out
}

func rowsAffected(res sql.Result, what string) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: %s rows affected: %w", what, err)
	}
	return n, nil
}
