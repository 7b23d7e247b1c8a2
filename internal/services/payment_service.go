package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/repositories"
)

var (
	// ErrPaymentInvalidInput indicates an invalid refund request.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotRefundable indicates the order has no captured payment to refund.
	ErrPaymentNotRefundable = errors.New("payment: no captured payment to refund")
	// ErrPaymentGateway wraps processor failures.
	ErrPaymentGateway = errors.New("payment: processor error")
)

// PaymentServiceDeps wires the order store and the processor.
type PaymentServiceDeps struct {
	Orders  repositories.OrderRepository
	Gateway payments.Gateway
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders  repositories.OrderRepository
	gateway payments.Gateway
	logger  func(context.Context, string, map[string]any)
}

// NewPaymentService constructs a PaymentService.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentService{orders: deps.Orders, gateway: deps.Gateway, logger: logger}, nil
}

// RefundOrderPayment refunds the order's captured payment, fully unless an amount is given.
// The order status is left as is.
func (s *paymentService) RefundOrderPayment(ctx context.Context, cmd RefundOrderPaymentCommand) (RefundOutcome, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return RefundOutcome{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return RefundOutcome{}, mapOrderRepositoryError(err)
	}

	payment, intentID := capturedPayment(order.Payments)
	if payment == nil {
		return RefundOutcome{}, fmt.Errorf("%w: order %s", ErrPaymentNotRefundable, orderID)
	}
	if cmd.Amount != nil {
		if !cmd.Amount.IsPositive() || cmd.Amount.GreaterThan(payment.Amount) {
			return RefundOutcome{}, fmt.Errorf("%w: refund amount must be between 0 and %s", ErrPaymentInvalidInput, payment.Amount.StringFixed(2))
		}
	}

	key := "order-" + orderID + "-refund"
	if cmd.Amount != nil {
		key += "-" + cmd.Amount.String()
	}
	result, err := s.gateway.Refund(ctx, payments.RefundRequest{
		PaymentIntentID: intentID,
		Amount:          cmd.Amount,
		Currency:        payment.Currency,
		Reason:          cmd.Reason,
		IdempotencyKey:  key,
	})
	if err != nil {
		s.logger(ctx, "payment.refund.failed", map[string]any{"orderId": orderID, "error": err.Error()})
		return RefundOutcome{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	amount, err := payments.FromMinorUnits(result.AmountMinor, payment.Currency)
	if err != nil {
		return RefundOutcome{}, err
	}
	s.logger(ctx, "payment.refunded", map[string]any{
		"orderId":  orderID,
		"refundId": result.ID,
		"amount":   amount.String(),
	})
	return RefundOutcome{OrderID: orderID, RefundID: result.ID, Status: result.Status, Amount: amount}, nil
}

// capturedPayment returns the newest succeeded payment and the intent id to refund.
func capturedPayment(list []Payment) (*Payment, string) {
	var found *Payment
	var intentID string
	for i := range list {
		p := &list[i]
		if p.Status != domain.PaymentStatusSucceeded {
			continue
		}
		id := p.ExternalPaymentID
		if p.Kind == domain.PaymentKindCheckoutSession {
			id = p.Metadata.PaymentIntentID
		}
		if id == "" {
			continue
		}
		if found == nil || p.CreatedAt.After(found.CreatedAt) {
			found, intentID = p, id
		}
	}
	return found, intentID
}
