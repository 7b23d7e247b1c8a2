package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

var orderStateTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusPaid, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:       {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
}

// restorableStatuses can be cancelled with stock and promo usage returned.
var restorableStatuses = []OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusPaid,
	domain.OrderStatusProcessing,
}

// OrderStatusMachineDeps wires the collaborators used during compensating restores.
type OrderStatusMachineDeps struct {
	Inventory  InventoryService
	Promotions PromotionService
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type orderStatusMachine struct {
	inventory  InventoryService
	promotions PromotionService
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewOrderStatusMachine constructs the guarded status machine.
func NewOrderStatusMachine(deps OrderStatusMachineDeps) (OrderStatusMachine, error) {
	if deps.Inventory == nil {
		return nil, errors.New("order status: inventory service is required")
	}
	if deps.Promotions == nil {
		return nil, errors.New("order status: promotion service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderStatusMachine{
		inventory:  deps.Inventory,
		promotions: deps.Promotions,
		clock:      func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

// Transition moves the order to cmd.Target with a conditional update. When the guard fails
// the order is re-read to report why.
func (m *orderStatusMachine) Transition(ctx context.Context, tx repositories.Tx, cmd TransitionCommand) (Order, error) {
	if tx == nil {
		return Order{}, fmt.Errorf("%w: transaction is required", ErrOrderInvalidInput)
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	from := allowedSources(cmd.Target)
	if len(from) == 0 {
		return Order{}, fmt.Errorf("%w: unknown target status %q", ErrOrderInvalidInput, cmd.Target)
	}

	transition := repositories.OrderTransition{
		OrderID: orderID,
		From:    from,
		To:      cmd.Target,
		At:      m.clock(),
	}
	switch cmd.Target {
	case domain.OrderStatusShipped:
		if strings.TrimSpace(cmd.DeliveryUserID) == "" {
			return Order{}, fmt.Errorf("%w: delivery user is required to ship", ErrOrderInvalidInput)
		}
		transition.AssignDeliveryUserID = cmd.DeliveryUserID
	case domain.OrderStatusDelivered:
		transition.RequireDeliveryUserID = cmd.DeliveryUserID
	}

	moved, err := tx.Orders().Transition(ctx, transition)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	order, err := tx.Orders().FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if !moved {
		if order.Status == domain.OrderStatusShipped && cmd.Target == domain.OrderStatusDelivered {
			return Order{}, fmt.Errorf("%w: order %s", ErrOrderNotAssigned, orderID)
		}
		return Order{}, newInvalidTransitionError(order.Status, cmd.Target)
	}

	m.logger(ctx, "order.status.changed", map[string]any{
		"orderId": orderID,
		"status":  string(cmd.Target),
	})
	return order, nil
}

// Restore cancels the order and returns what it held: stock, promo usage and pending payments.
// An order that is already CANCELLED is left untouched.
func (m *orderStatusMachine) Restore(ctx context.Context, tx repositories.Tx, orderID string) (RestoreResult, error) {
	if tx == nil {
		return RestoreResult{}, fmt.Errorf("%w: transaction is required", ErrOrderInvalidInput)
	}
	order, err := tx.Orders().FindByID(ctx, orderID)
	if err != nil {
		return RestoreResult{}, mapOrderRepositoryError(err)
	}
	if order.Status == domain.OrderStatusCancelled {
		return RestoreResult{Order: order}, nil
	}

	now := m.clock()
	moved, err := tx.Orders().Transition(ctx, repositories.OrderTransition{
		OrderID: order.ID,
		From:    restorableStatuses,
		To:      domain.OrderStatusCancelled,
		At:      now,
	})
	if err != nil {
		return RestoreResult{}, mapOrderRepositoryError(err)
	}
	if !moved {
		current, err := tx.Orders().FindByID(ctx, orderID)
		if err != nil {
			return RestoreResult{}, mapOrderRepositoryError(err)
		}
		if current.Status == domain.OrderStatusCancelled {
			return RestoreResult{Order: current}, nil
		}
		return RestoreResult{}, newInvalidTransitionError(current.Status, domain.OrderStatusCancelled)
	}

	if lines := orderInventoryLines(order); len(lines) > 0 {
		if err := m.inventory.RestoreAll(ctx, tx, lines); err != nil {
			return RestoreResult{}, err
		}
	}
	if err := m.promotions.ReleaseUsage(ctx, tx, order.PromoCode); err != nil {
		return RestoreResult{}, err
	}
	if _, err := tx.Payments().TransitionForOrder(ctx, order.ID, domain.PaymentStatusPending, domain.PaymentStatusCancelled, now); err != nil {
		return RestoreResult{}, mapOrderRepositoryError(err)
	}

	restored, err := tx.Orders().FindByID(ctx, order.ID)
	if err != nil {
		return RestoreResult{}, mapOrderRepositoryError(err)
	}
	m.logger(ctx, "order.restored", map[string]any{
		"orderId":        order.ID,
		"previousStatus": string(order.Status),
		"items":          len(order.Items),
	})
	return RestoreResult{Order: restored, Restored: true}, nil
}

func allowedSources(target OrderStatus) []OrderStatus {
	var from []OrderStatus
	for status, next := range orderStateTransitions {
		if slices.Contains(next, target) {
			from = append(from, status)
		}
	}
	slices.Sort(from)
	return from
}

func canTransition(current, target OrderStatus) bool {
	return slices.Contains(orderStateTransitions[current], target)
}

func newInvalidTransitionError(current, target OrderStatus) error {
	return &InvalidTransitionError{
		Current: current,
		Target:  target,
		Allowed: allowedSources(target),
	}
}

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}
