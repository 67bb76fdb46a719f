package checkin

import (
	"context"
	"errors"

	"loyalty-checkin/pkg/db/pagination"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// History lists a user's check-ins, newest first.
func (p *Processor) History(ctx context.Context, userID string, page pagination.Pagination) ([]CheckIn, *pagination.PageInfo, error) {
	if userID == "" {
		return nil, nil, ErrInvalidRequest
	}

	limit := page.Size()
	q := p.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit + 1)

	if page.Cursor != "" {
		cur, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errors.Join(ErrInvalidCursor, err)
		}
		q = q.Where("created_at < ? OR (created_at = ? AND id < ?)", cur.CreatedAt, cur.CreatedAt, cur.ID)
	}

	var rows []CheckIn
	if err := q.Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	return pagination.BuildCursorPage(rows, limit, func(c CheckIn) pagination.Cursor {
		return pagination.Cursor{CreatedAt: c.CreatedAt, ID: c.ID}
	})
}
