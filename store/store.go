// Package store persists ledger records. The ledger owns every id counter and
// balance; a store only mirrors what the ledger has already decided.
package store

import (
	"context"
	"errors"

	"go-microbank/models"
)

// Sequence names persisted alongside the records.
const (
	SeqCustomers = "customers"
	SeqAccounts  = "accounts"
	SeqLoans     = "microloans"
	SeqRequests  = "microloan_requests"
	SeqOffers    = "microloan_offers"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Snapshot is the full durable state, loaded once at startup.
type Snapshot struct {
	Customers    []models.Customer
	Accounts     []models.Account
	Loans        []models.Microloan
	Requests     []models.MicroloanRequest
	Offers       []models.MicroloanOffer
	Transactions []models.Transaction
	Sequences    map[string]int64
}

// Changeset is one unit of work. A store applies all of it or none of it.
type Changeset struct {
	// upserted by id
	Customers []models.Customer
	Accounts  []models.Account

	DeletedAccounts  []int64
	ConsumedRequests []int64
	ConsumedOffers   []int64

	// appended
	Loans        []models.Microloan
	Requests     []models.MicroloanRequest
	Offers       []models.MicroloanOffer
	Transactions []models.Transaction

	Sequences map[string]int64
}

// SetSequence records the last id handed out for a sequence.
func (cs *Changeset) SetSequence(name string, value int64) {
	if cs.Sequences == nil {
		cs.Sequences = make(map[string]int64)
	}
	cs.Sequences[name] = value
}

// Empty reports whether applying cs would change nothing.
func (cs *Changeset) Empty() bool {
	return len(cs.Customers) == 0 && len(cs.Accounts) == 0 &&
		len(cs.DeletedAccounts) == 0 && len(cs.ConsumedRequests) == 0 &&
		len(cs.ConsumedOffers) == 0 && len(cs.Loans) == 0 &&
		len(cs.Requests) == 0 && len(cs.Offers) == 0 &&
		len(cs.Transactions) == 0 && len(cs.Sequences) == 0
}

// Store is the durable record store behind the ledger.
type Store interface {
	// Load reads every record of every kind.
	Load(ctx context.Context) (*Snapshot, error)
	// Apply writes one changeset atomically.
	Apply(ctx context.Context, cs *Changeset) error
	// Flush overwrites all customers and accounts with the given sets.
	Flush(ctx context.Context, customers []models.Customer, accounts []models.Account) error
	Close() error
}

func upsert[T any](records, updates []T, id func(T) int64) []T {
	index := make(map[int64]int, len(records))
	for i, r := range records {
		index[id(r)] = i
	}
	for _, u := range updates {
		if i, ok := index[id(u)]; ok {
			records[i] = u
			continue
		}
		index[id(u)] = len(records)
		records = append(records, u)
	}
	return records
}

func without[T any](records []T, ids []int64, id func(T) int64) []T {
	if len(ids) == 0 {
		return records
	}
	drop := make(map[int64]bool, len(ids))
	for _, i := range ids {
		drop[i] = true
	}
	kept := records[:0]
	for _, r := range records {
		if !drop[id(r)] {
			kept = append(kept, r)
		}
	}
	return kept
}

func customerID(c models.Customer) int64        { return c.ID }
func accountID(a models.Account) int64          { return a.ID }
func requestID(r models.MicroloanRequest) int64 { return r.ID }
func offerID(o models.MicroloanOffer) int64     { return o.ID }
