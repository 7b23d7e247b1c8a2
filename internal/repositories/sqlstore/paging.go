package sqlstore

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/pagination"
)

// keysetPage orders by created_at DESC, id DESC and positions the query after the cursor.
// It fetches one extra row so callers can tell whether another page exists.
func keysetPage(query *gorm.DB, table string, pager domain.Pagination) (*gorm.DB, int, error) {
	size := pagination.NormalizePageSize(pager.PageSize)
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return nil, 0, err
	}
	if !cursor.IsZero() {
		query = query.Where(
			fmt.Sprintf("((%[1]s.created_at < ?) OR (%[1]s.created_at = ? AND %[1]s.id < ?))", table),
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}
	query = query.
		Order(fmt.Sprintf("%s.created_at DESC", table)).
		Order(fmt.Sprintf("%s.id DESC", table)).
		Limit(size + 1)
	return query, size, nil
}

func nextPageToken(hasMore bool, createdAt time.Time, id string) string {
	if !hasMore {
		return ""
	}
	token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: createdAt, ID: id})
	if err != nil {
		return ""
	}
	return token
}
