// Package events defines the single domain event publisher used across the
// settlement pipeline, decoupled from the broker transport. Publishing is
// fire-and-forget: the pipeline never waits for downstream acknowledgment.
package events

import "time"

// Kind tags a domain event with its routing key.
type Kind string

const (
	RemittanceCreated        Kind = "remittance.created"
	RemittanceWaiting        Kind = "remittance.waiting"
	RemittanceClosed         Kind = "remittance.closed"
	RemittanceManuallyClosed Kind = "remittance.manually_closed"

	CryptoRemittanceFilled Kind = "crypto_remittance.filled"

	ExchangeQuotationAccepted  Kind = "exchange_quotation.accepted"
	ExchangeQuotationApproved  Kind = "exchange_quotation.approved"
	ExchangeQuotationCompleted Kind = "exchange_quotation.completed"
	ExchangeQuotationRejected  Kind = "exchange_quotation.rejected"
	ExchangeQuotationCanceled  Kind = "exchange_quotation.canceled"
	// ExchangeQuotationFailed signals a failed create-and-accept attempt whose
	// remittances were released for the next scheduling tick.
	ExchangeQuotationFailed Kind = "exchange_quotation.failed"
)

// Event is a tagged domain notification.
type Event struct {
	Kind       Kind           `json:"kind"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

// Publisher fans events out to downstream consumers.
type Publisher interface {
	Publish(event Event)
}

// New builds an Event stamped with the current time.
func New(kind Kind, payload map[string]any) Event {
	return Event{
		Kind:       kind,
		OccurredAt: time.Now(),
		Payload:    payload,
	}
}
