package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/storefront/api/internal/repositories"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryInsufficientStock indicates the requested quantity exceeds availability.
	ErrInventoryInsufficientStock = errors.New("inventory: insufficient stock")
)

// InsufficientStockError names the product whose stock could not cover the request.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("%s: %s cannot cover quantity %d", ErrInventoryInsufficientStock, name, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInventoryInsufficientStock
}

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Metrics Metrics
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	metrics Metrics
	logger  func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &inventoryService{metrics: metrics, logger: logger}, nil
}

// Reserve decrements stock with a single conditional update. No row matching means the
// stock could not cover the quantity at the moment of the update.
func (s *inventoryService) Reserve(ctx context.Context, tx repositories.Tx, line InventoryLine) error {
	if tx == nil {
		return fmt.Errorf("%w: transaction is required", ErrInventoryInvalidInput)
	}
	productID := strings.TrimSpace(line.ProductID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if line.Quantity <= 0 {
		return fmt.Errorf("%w: quantity for %s must be positive", ErrInventoryInvalidInput, productID)
	}

	ok, err := tx.Products().DecrementStock(ctx, productID, line.Quantity)
	if err != nil {
		return fmt.Errorf("inventory: reserve %s: %w", productID, err)
	}
	if !ok {
		s.metrics.ReservationFailed(productID)
		s.logger(ctx, "inventory.reserve.insufficient", map[string]any{
			"productId": productID,
			"quantity":  line.Quantity,
		})
		return &InsufficientStockError{ProductID: productID, ProductName: line.ProductName, Requested: line.Quantity}
	}
	return nil
}

// ReserveAll reserves every line inside tx. Lines for the same product are merged and
// applied in product id order. The first failure aborts; the caller's rollback undoes
// decrements already applied.
func (s *inventoryService) ReserveAll(ctx context.Context, tx repositories.Tx, lines []InventoryLine) error {
	merged, err := mergeInventoryLines(lines)
	if err != nil {
		return err
	}
	for _, line := range merged {
		if err := s.Reserve(ctx, tx, line); err != nil {
			return err
		}
	}
	return nil
}

// Restore adds qty back unconditionally. It is not idempotent; callers guard it with a
// status transition in the same transaction.
func (s *inventoryService) Restore(ctx context.Context, tx repositories.Tx, productID string, qty int) error {
	if tx == nil {
		return fmt.Errorf("%w: transaction is required", ErrInventoryInvalidInput)
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if qty <= 0 {
		return fmt.Errorf("%w: quantity for %s must be positive", ErrInventoryInvalidInput, productID)
	}
	if err := tx.Products().IncrementStock(ctx, productID, qty); err != nil {
		return fmt.Errorf("inventory: restore %s: %w", productID, err)
	}
	return nil
}

func (s *inventoryService) RestoreAll(ctx context.Context, tx repositories.Tx, lines []InventoryLine) error {
	merged, err := mergeInventoryLines(lines)
	if err != nil {
		return err
	}
	for _, line := range merged {
		if err := s.Restore(ctx, tx, line.ProductID, line.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func mergeInventoryLines(lines []InventoryLine) ([]InventoryLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}
	aggregated := make(map[string]*InventoryLine, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: line product id is required", ErrInventoryInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrInventoryInvalidInput, productID)
		}
		agg, ok := aggregated[productID]
		if !ok {
			agg = &InventoryLine{ProductID: productID, ProductName: line.ProductName}
			aggregated[productID] = agg
		}
		agg.Quantity += line.Quantity
	}

	result := make([]InventoryLine, 0, len(aggregated))
	for _, line := range aggregated {
		result = append(result, *line)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProductID < result[j].ProductID })
	return result, nil
}

func orderInventoryLines(order Order) []InventoryLine {
	lines := make([]InventoryLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, InventoryLine{
			ProductID:   item.ProductID,
			ProductName: item.NameAtPurchase,
			Quantity:    item.Quantity,
		})
	}
	return lines
}
