package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types
const (
	CustomerRegistered = "customer.registered"

	AccountCreated = "account.created"
	AccountDeleted = "account.deleted"

	TransferCompleted = "transfer.completed"

	OfferPosted      = "microloan.offer_posted"
	RequestSubmitted = "microloan.request_submitted"
	LoanCreated      = "microloan.created"
)

// Stream names
const (
	CustomerEventsStream  = "customer.events"
	AccountEventsStream   = "account.events"
	TransferEventsStream  = "transfer.events"
	MicroloanEventsStream = "microloan.events"
)

// Event is stamped by the ledger clock at commit time.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Values is the stream entry for e: its type and the event as JSON.
func (e Event) Values() (map[string]any, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", e.Type, err)
	}
	return map[string]any{
		"type":  e.Type,
		"event": string(body),
	}, nil
}

type CustomerRegisteredEvent struct {
	CustomerID int64  `json:"customerId"`
	Username   string `json:"username"`
}

type AccountDeletedEvent struct {
	CustomerID int64  `json:"customerId"`
	AccountID  int64  `json:"accountId"`
	Name       string `json:"name"`
	Swept      string `json:"swept"`
}
