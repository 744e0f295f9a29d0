// Package memory provides an in-memory ledger.Table. It backs unit tests
// and the "memory" backend for local development; nothing survives a
// restart.
package memory

import (
	"context"
	"sync"

	"github.com/tickwise/presenced/internal/ledger"
)

// Table is a mutex-guarded in-memory table.
type Table struct {
	mu    sync.Mutex
	cells [][]string

	failuresLeft int
	failErr      error
}

// New creates an empty table.
func New() *Table {
	return &Table{}
}

// FailNext makes the next n operations return err, for exercising retry
// paths in tests.
func (t *Table) FailNext(n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failuresLeft = n
	t.failErr = err
}

// Snapshot returns a deep copy of every stored row, header included.
func (t *Table) Snapshot() [][]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([][]string, len(t.cells))
	for i, row := range t.cells {
		out[i] = append([]string(nil), row...)
	}
	return out
}

func (t *Table) fail() error {
	if t.failuresLeft > 0 {
		t.failuresLeft--
		return t.failErr
	}
	return nil
}

func (t *Table) Header(ctx context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.fail(); err != nil {
		return nil, err
	}
	if len(t.cells) == 0 {
		return []string{}, nil
	}
	return append([]string(nil), t.cells[0]...), nil
}

func (t *Table) AppendColumn(ctx context.Context, label string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.fail(); err != nil {
		return 0, err
	}
	if len(t.cells) == 0 {
		t.cells = append(t.cells, []string{})
	}
	t.cells[0] = append(t.cells[0], label)
	return len(t.cells[0]), nil
}

func (t *Table) FindRow(ctx context.Context, userID string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.fail(); err != nil {
		return 0, err
	}
	for i := 1; i < len(t.cells); i++ {
		if len(t.cells[i]) > 0 && t.cells[i][0] == userID {
			return i + 1, nil
		}
	}
	return 0, ledger.ErrNotFound
}

func (t *Table) ReadCell(ctx context.Context, row, col int) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.fail(); err != nil {
		return "", err
	}
	if row < 1 || row > len(t.cells) {
		return "", nil
	}
	cells := t.cells[row-1]
	if col < 1 || col > len(cells) {
		return "", nil
	}
	return cells[col-1], nil
}

func (t *Table) WriteCell(ctx context.Context, row, col int, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.fail(); err != nil {
		return err
	}
	for len(t.cells) < row {
		t.cells = append(t.cells, []string{})
	}
	cells := t.cells[row-1]
	for len(cells) < col {
		cells = append(cells, "")
	}
	cells[col-1] = value
	t.cells[row-1] = cells
	return nil
}

func (t *Table) AppendRow(ctx context.Context, cells []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.fail(); err != nil {
		return err
	}
	t.cells = append(t.cells, append([]string(nil), cells...))
	return nil
}

func (t *Table) Rows(ctx context.Context) ([][]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.fail(); err != nil {
		return nil, err
	}
	out := make([][]string, len(t.cells))
	for i, row := range t.cells {
		out[i] = append([]string(nil), row...)
	}
	return out, nil
}
