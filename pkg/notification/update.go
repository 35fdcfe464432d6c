package notification

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is a server-to-server notification type as sent by the store.
type EventType string

const (
	EventSubscribed             EventType = "SUBSCRIBED"
	EventDidRenew               EventType = "DID_RENEW"
	EventOfferRedeemed          EventType = "OFFER_REDEEMED"
	EventCancel                 EventType = "CANCEL"
	EventDidFailToRenew         EventType = "DID_FAIL_TO_RENEW"
	EventExpired                EventType = "EXPIRED"
	EventGracePeriodExpired     EventType = "GRACE_PERIOD_EXPIRED"
	EventRefund                 EventType = "REFUND"
	EventRevoke                 EventType = "REVOKE"
	EventDidChangeRenewalStatus EventType = "DID_CHANGE_RENEWAL_STATUS"
)

// Update is a decoded subscription event from a store notification.
type Update struct {
	EventType             EventType  `json:"notificationType"`
	Subtype               string     `json:"subtype,omitempty"`
	ProductID             string     `json:"productId"`
	TransactionID         string     `json:"transactionId"`
	OriginalTransactionID string     `json:"originalTransactionId,omitempty"`
	ExpirationDate        *time.Time `json:"expirationDate,omitempty"`
	GracePeriodEndDate    *time.Time `json:"gracePeriodEndDate,omitempty"`
	AutoRenewalEnabled    *bool      `json:"autoRenewalEnabled,omitempty"`
	EventTime             time.Time  `json:"eventTime"`
}

// DedupKey identifies an event for idempotent processing. The store retries
// delivery until acknowledged, so the same (transaction, type) pair can
// arrive more than once.
func (u Update) DedupKey() string {
	return u.TransactionID + ":" + string(u.EventType)
}

// Decode parses a notification payload into an Update.
func Decode(payload []byte) (Update, error) {
	var u Update
	if err := json.Unmarshal(payload, &u); err != nil {
		return Update{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if u.EventType == "" || u.TransactionID == "" {
		return Update{}, fmt.Errorf("%w: missing notification type or transaction id", ErrInvalidPayload)
	}
	return u, nil
}
