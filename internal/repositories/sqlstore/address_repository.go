package sqlstore

import (
	"context"

	"gorm.io/gorm"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/sqldb"
)

type addressRepository struct {
	db *gorm.DB
}

// FindForUser returns not found when the address belongs to someone else.
func (r addressRepository) FindForUser(ctx context.Context, userID string, addressID string) (domain.Address, error) {
	var model addressModel
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", addressID, userID).First(&model).Error
	if err != nil {
		return domain.Address{}, sqldb.WrapError("addresses.find", err)
	}
	return model.toDomain(), nil
}

func (r addressRepository) Create(ctx context.Context, address domain.Address) error {
	model := addressFromDomain(address)
	return sqldb.WrapError("addresses.create", r.db.WithContext(ctx).Create(&model).Error)
}
