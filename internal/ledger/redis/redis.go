// Package redis implements ledger.Table on Redis. The table is flattened
// into a handful of keys: a column counter, a row counter, a user-to-row
// index hash, and one hash per row keyed by column number. Redis failures
// are reported as transient so the Syncer retries them.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/tickwise/presenced/internal/config"
	"github.com/tickwise/presenced/internal/ledger"
	"github.com/tickwise/presenced/internal/redisconn"
)

const keyPrefix = "presenced:ledger"

// Table is a Redis-backed ledger table.
type Table struct {
	client *redis.Client
}

// Open creates a Redis-backed table, verifying the connection.
func Open(cfg config.RedisConfig) (*Table, error) {
	client, err := redisconn.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &Table{client: client}, nil
}

// NewWithClient wraps an existing client, for sharing a connection pool.
func NewWithClient(client *redis.Client) *Table {
	return &Table{client: client}
}

// Close closes the Redis connection.
func (t *Table) Close() error {
	return t.client.Close()
}

func (t *Table) rowKey(row int) string {
	return fmt.Sprintf("%s:row:%d", keyPrefix, row)
}

func (t *Table) indexKey() string { return keyPrefix + ":index" }
func (t *Table) nrowsKey() string { return keyPrefix + ":nrows" }
func (t *Table) ncolsKey() string { return keyPrefix + ":ncols" }

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return &ledger.TransientError{Err: err}
}

func (t *Table) counter(ctx context.Context, key string) (int, error) {
	raw, err := t.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, wrap(err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("corrupt counter %s: %w", key, err)
	}
	return n, nil
}

func (t *Table) readRow(ctx context.Context, row, ncols int) ([]string, error) {
	fields, err := t.client.HGetAll(ctx, t.rowKey(row)).Result()
	if err != nil {
		return nil, wrap(err)
	}

	cells := make([]string, ncols)
	for field, value := range fields {
		col, err := strconv.Atoi(field)
		if err != nil || col < 1 || col > ncols {
			continue
		}
		cells[col-1] = value
	}
	return cells, nil
}

func (t *Table) Header(ctx context.Context) ([]string, error) {
	nrows, err := t.counter(ctx, t.nrowsKey())
	if err != nil {
		return nil, err
	}
	if nrows == 0 {
		return []string{}, nil
	}

	ncols, err := t.counter(ctx, t.ncolsKey())
	if err != nil {
		return nil, err
	}
	return t.readRow(ctx, 1, ncols)
}

func (t *Table) AppendColumn(ctx context.Context, label string) (int, error) {
	col, err := t.client.Incr(ctx, t.ncolsKey()).Result()
	if err != nil {
		return 0, wrap(err)
	}
	if err := t.client.HSet(ctx, t.rowKey(1), strconv.FormatInt(col, 10), label).Err(); err != nil {
		return 0, wrap(err)
	}
	return int(col), nil
}

func (t *Table) FindRow(ctx context.Context, userID string) (int, error) {
	raw, err := t.client.HGet(ctx, t.indexKey(), userID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ledger.ErrNotFound
	}
	if err != nil {
		return 0, wrap(err)
	}
	row, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("corrupt row index for %s: %w", userID, err)
	}
	return row, nil
}

func (t *Table) ReadCell(ctx context.Context, row, col int) (string, error) {
	value, err := t.client.HGet(ctx, t.rowKey(row), strconv.Itoa(col)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", wrap(err)
	}
	return value, nil
}

func (t *Table) WriteCell(ctx context.Context, row, col int, value string) error {
	return wrap(t.client.HSet(ctx, t.rowKey(row), strconv.Itoa(col), value).Err())
}

func (t *Table) AppendRow(ctx context.Context, cells []string) error {
	row, err := t.client.Incr(ctx, t.nrowsKey()).Result()
	if err != nil {
		return wrap(err)
	}

	pipe := t.client.Pipeline()
	for i, cell := range cells {
		if cell == "" {
			continue
		}
		pipe.HSet(ctx, t.rowKey(int(row)), strconv.Itoa(i+1), cell)
	}

	if row == 1 {
		// Bootstrapping the header defines the initial column count.
		pipe.Set(ctx, t.ncolsKey(), len(cells), 0)
	} else if len(cells) > 0 && cells[ledger.ColUserID-1] != "" {
		pipe.HSet(ctx, t.indexKey(), cells[ledger.ColUserID-1], row)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return wrap(err)
	}
	return nil
}

func (t *Table) Rows(ctx context.Context) ([][]string, error) {
	nrows, err := t.counter(ctx, t.nrowsKey())
	if err != nil {
		return nil, err
	}
	ncols, err := t.counter(ctx, t.ncolsKey())
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, nrows)
	for row := 1; row <= nrows; row++ {
		cells, err := t.readRow(ctx, row, ncols)
		if err != nil {
			return nil, err
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
