package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates a concurrent update won the race.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the order store could not be reached.
	ErrOrderUnavailable = errors.New("order: unavailable")
	// ErrOrderInProgress indicates the user already has a PENDING order.
	ErrOrderInProgress = errors.New("order: an order is already pending payment")
	// ErrOrderCartEmpty indicates there is no active cart with items to order.
	ErrOrderCartEmpty = errors.New("order: cart is empty")
	// ErrOrderAddressRequired indicates neither an address id nor an inline address was given.
	ErrOrderAddressRequired = errors.New("order: shipping address is required")
	// ErrOrderAddressAmbiguous indicates both an address id and an inline address were given.
	ErrOrderAddressAmbiguous = errors.New("order: provide either an address id or an address, not both")
	// ErrOrderAddressNotFound indicates the address id does not belong to the user.
	ErrOrderAddressNotFound = errors.New("order: address not found")
	// ErrOrderTotalNotPayable indicates the priced order has nothing left to charge.
	ErrOrderTotalNotPayable = errors.New("order: total must be greater than zero")
	// ErrOrderPaymentUnavailable indicates the payment processor call failed after the order was stored.
	ErrOrderPaymentUnavailable = errors.New("order: payment processor unavailable")
	// ErrOrderInvalidTransition indicates the order status does not allow the requested change.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderNotAssigned indicates a delivery user acted on an order assigned to someone else.
	ErrOrderNotAssigned = errors.New("order: not assigned to this delivery user")
)

// InvalidTransitionError reports the current status and the statuses Target may be
// reached from.
type InvalidTransitionError struct {
	Current OrderStatus
	Target  OrderStatus
	Allowed []OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, 0, len(e.Allowed))
	for _, status := range e.Allowed {
		allowed = append(allowed, string(status))
	}
	return fmt.Sprintf("%v: cannot move from %s to %s (requires one of: %s)", ErrOrderInvalidTransition, e.Current, e.Target, strings.Join(allowed, ", "))
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrOrderInvalidTransition
}
