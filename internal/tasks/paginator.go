package tasks

import (
	"context"
	"encoding/json"

	"github.com/desertthunder/sparchive/internal/models"
)

// PageFunc fetches the page of limit items starting at offset.
type PageFunc func(ctx context.Context, limit, offset int) (*models.Page, error)

// CursorFunc fetches the page a next cursor points at.
type CursorFunc func(ctx context.Context, next string) (*models.Page, error)

// Paginator walks every page of one collection.
//
// A non-empty next cursor is followed through Next when set. Otherwise the next offset is
// requested while offset+count is below the total reported by the latest page. The total is
// re-read on every page, and an empty page always ends the walk.
type Paginator struct {
	Fetch    PageFunc
	Next     CursorFunc
	PageSize int
}

// CollectAll returns the items of every page in order, starting again from offset 0.
func (p *Paginator) CollectAll(ctx context.Context) ([]json.RawMessage, error) {
	page, err := p.Fetch(ctx, p.PageSize, 0)
	if err != nil {
		return nil, err
	}

	var (
		items  []json.RawMessage
		offset int
	)
	for len(page.Items) > 0 {
		items = append(items, page.Items...)
		offset += len(page.Items)

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch {
		case page.HasNext() && p.Next != nil:
			page, err = p.Next(ctx, *page.Next)
		case page.HasNext() || offset < page.Total:
			page, err = p.Fetch(ctx, p.PageSize, offset)
		default:
			return items, nil
		}
		if err != nil {
			return nil, err
		}
	}
	return items, nil
}
