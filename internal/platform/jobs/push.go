package jobs

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/storefront/api/internal/services"
)

// ErrMalformedPush indicates a push request that can never be processed.
var ErrMalformedPush = errors.New("jobs: malformed push message")

// PushEnvelope is the body Pub/Sub POSTs to a push endpoint.
type PushEnvelope struct {
	Message struct {
		Data        []byte            `json:"data"`
		Attributes  map[string]string `json:"attributes"`
		MessageID   string            `json:"messageId"`
		PublishTime string            `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// DecodeWebhookDelivery extracts a retry delivery from a push request body.
func DecodeWebhookDelivery(body []byte) (services.WebhookDelivery, PushEnvelope, error) {
	var env PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return services.WebhookDelivery{}, env, fmt.Errorf("%w: %v", ErrMalformedPush, err)
	}
	if len(env.Message.Data) == 0 {
		return services.WebhookDelivery{}, env, fmt.Errorf("%w: empty data", ErrMalformedPush)
	}
	var delivery services.WebhookDelivery
	if err := json.Unmarshal(env.Message.Data, &delivery); err != nil {
		return services.WebhookDelivery{}, env, fmt.Errorf("%w: %v", ErrMalformedPush, err)
	}
	if delivery.Event.ID == "" {
		return services.WebhookDelivery{}, env, fmt.Errorf("%w: delivery without event", ErrMalformedPush)
	}
	return delivery, env, nil
}
