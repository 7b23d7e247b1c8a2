// Package sqlstore implements the relational repositories on gorm.
package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/storefront/api/internal/platform/sqldb"
	"github.com/storefront/api/internal/repositories"
)

// Store implements repositories.Store over a gorm connection pool.
type Store struct {
	repoSet
}

var _ repositories.Store = (*Store)(nil)

// New wraps an open gorm handle.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstore: db is required")
	}
	return &Store{repoSet: repoSet{db: db}}, nil
}

// Migrate creates or updates the schema for every persisted model.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return nil
}

// Ping verifies connectivity for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqldb.WrapError("sqlstore.ping", sqlDB.PingContext(ctx))
}

// Close releases the pool.
func (s *Store) Close(context.Context) error {
	return sqldb.Close(s.db)
}

// Begin opens an explicit transaction scope.
func (s *Store) Begin(ctx context.Context) (repositories.Tx, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, sqldb.WrapError("sqlstore.begin", tx.Error)
	}
	return &txScope{repoSet: repoSet{db: tx}}, nil
}

// RunInTx runs fn inside a transaction. The transaction commits when fn returns nil and
// rolls back when fn fails or panics.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.Tx) error) (err error) {
	if fn == nil {
		return errors.New("sqlstore: transaction function is required")
	}
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

type txScope struct {
	repoSet
	done bool
}

func (t *txScope) Commit() error {
	if t.done {
		return errors.New("sqlstore: transaction already finished")
	}
	t.done = true
	return sqldb.WrapError("sqlstore.commit", t.db.Commit().Error)
}

// Rollback is a no-op once the scope has committed or rolled back.
func (t *txScope) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.db.Rollback().Error
	if errors.Is(err, gorm.ErrInvalidTransaction) {
		return nil
	}
	return sqldb.WrapError("sqlstore.rollback", err)
}

type repoSet struct {
	db *gorm.DB
}

func (r repoSet) Products() repositories.ProductRepository       { return productRepository{db: r.db} }
func (r repoSet) Orders() repositories.OrderRepository           { return orderRepository{db: r.db} }
func (r repoSet) Payments() repositories.PaymentRepository       { return paymentRepository{db: r.db} }
func (r repoSet) PromoCodes() repositories.PromoCodeRepository   { return promoCodeRepository{db: r.db} }
func (r repoSet) Carts() repositories.CartRepository             { return cartRepository{db: r.db} }
func (r repoSet) Addresses() repositories.AddressRepository      { return addressRepository{db: r.db} }
func (r repoSet) Likes() repositories.LikeRepository             { return likeRepository{db: r.db} }
func (r repoSet) WebhookEvents() repositories.WebhookEventRepository {
	return webhookEventRepository{db: r.db}
}
