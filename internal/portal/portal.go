// Package portal is the remote list the collector walks: a paginated table of
// people whose rows can generate a PDA report download.
package portal

import (
	"context"
	"errors"
)

var (
	// ErrStaleElement means the row was re-rendered while it was being read.
	// Callers may re-locate the row by index and retry.
	ErrStaleElement = errors.New("stale element")

	// ErrNotFound means an expected element (list, menu, button) never appeared.
	ErrNotFound = errors.New("element not found")
)

// Portal is the remote capability the collector drives. Row indexes are
// 1-based positions within the current page.
type Portal interface {
	// Open navigates to the list and waits for rows to render.
	Open(ctx context.Context) error

	// SetPageSize selects the preferred number of rows per page, or the
	// largest offered size when the preferred one is not available.
	SetPageSize(ctx context.Context, size int) error

	// RowCount returns the number of rows on the current page.
	RowCount(ctx context.Context) (int, error)

	// RowHTML returns the outer HTML of row idx.
	RowHTML(ctx context.Context, idx int) (string, error)

	// Generate opens the row's action menu and requests a PDA report. The
	// report is downloaded asynchronously into the staging directory.
	Generate(ctx context.Context, idx int) error

	// NextPage advances the list and reports whether a new page rendered.
	NextPage(ctx context.Context) (bool, error)

	Close() error
}
