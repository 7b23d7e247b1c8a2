package domain

import "time"

// WebhookEvent is a verified payment processor notification reduced to what reconciliation needs.
type WebhookEvent struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	OrderID         string    `json:"orderId,omitempty"`
	ExternalID      string    `json:"externalId,omitempty"`
	PaymentIntentID string    `json:"paymentIntentId,omitempty"`
	FailureMsg      string    `json:"failureMessage,omitempty"`
	Payload         []byte    `json:"payload,omitempty"`
	ReceivedAt      time.Time `json:"receivedAt"`
}

// WebhookDelivery is a retry envelope for an event whose reconciliation failed. It carries
// the already verified event so retries do not depend on the signature tolerance window.
type WebhookDelivery struct {
	ID         string       `json:"id"`
	Event      WebhookEvent `json:"event"`
	Attempt    int          `json:"attempt"`
	NotBefore  time.Time    `json:"notBefore"`
	LastError  string       `json:"lastError,omitempty"`
	EnqueuedAt time.Time    `json:"enqueuedAt"`
}

// DeadLetterStatus tracks operator handling of exhausted deliveries.
type DeadLetterStatus string

const (
	DeadLetterStatusOpen     DeadLetterStatus = "open"
	DeadLetterStatusRedriven DeadLetterStatus = "redriven"
)

// DeadLetter records a webhook delivery that exhausted its retry budget.
type DeadLetter struct {
	ID         string
	EventID    string
	EventType  string
	Attempts   int
	LastError  string
	PayloadRef string
	Payload    []byte
	Status     DeadLetterStatus
	CreatedAt  time.Time
	RedrivenAt *time.Time
}
