// Package ledger is the bank's book of record: customers and their accounts,
// transfers between them, and the microloan marketplace. One Bank is shared
// by every session; all reads and writes go through its lock.
package ledger

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"go-microbank/events"
	"go-microbank/metrics"
	"go-microbank/models"
	"go-microbank/money"
	"go-microbank/store"
)

// Notifier receives an event after each committed operation.
type Notifier interface {
	Publish(ctx context.Context, stream string, e events.Event) error
}

type Option func(*Bank)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bank) { b.now = now }
}

func WithNotifier(n Notifier) Option {
	return func(b *Bank) { b.notifier = n }
}

// Bank holds the in-memory ledger and mirrors every change to its store.
type Bank struct {
	mu       sync.RWMutex
	store    store.Store
	notifier Notifier
	now      func() time.Time
	newTxID  func() string

	customers map[int64]models.Customer
	usernames map[string]int64
	accounts  map[int64]models.Account
	owned     map[int64][]int64 // customer id -> account ids in creation order
	offers    map[int64]models.MicroloanOffer
	requests  map[int64]models.MicroloanRequest
	loans     []models.Microloan
	journal   []models.Transaction
	seq       map[string]int64
}

// Open loads everything from st and returns a ready Bank.
func Open(ctx context.Context, st store.Store, opts ...Option) (*Bank, error) {
	b := &Bank{
		store:     st,
		notifier:  events.Nop{},
		now:       time.Now,
		newTxID:   func() string { return uuid.New().String() },
		customers: make(map[int64]models.Customer),
		usernames: make(map[string]int64),
		accounts:  make(map[int64]models.Account),
		owned:     make(map[int64][]int64),
		offers:    make(map[int64]models.MicroloanOffer),
		requests:  make(map[int64]models.MicroloanRequest),
		seq:       make(map[string]int64),
	}
	for _, opt := range opts {
		opt(b)
	}

	snap, err := st.Load(ctx)
	if err != nil {
		log.Printf("ledger: failed to load store: %v", err)
		return nil, fmt.Errorf("%w: load: %w", ErrStoreIO, err)
	}
	if err := b.restore(snap); err != nil {
		return nil, err
	}
	log.Printf("ledger: loaded %d customers, %d accounts, %d open offers, %d open requests, %d loans",
		len(b.customers), len(b.accounts), len(b.offers), len(b.requests), len(b.loans))
	return b, nil
}

func (b *Bank) restore(snap *store.Snapshot) error {
	for _, c := range snap.Customers {
		if _, dup := b.usernames[c.Username]; dup {
			return fmt.Errorf("%w: username %q stored twice", ErrInconsistent, c.Username)
		}
		b.customers[c.ID] = c
		b.usernames[c.Username] = c.ID
		b.bump(store.SeqCustomers, c.ID)
	}

	accounts := append([]models.Account(nil), snap.Accounts...)
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	for _, a := range accounts {
		if _, ok := b.customers[a.CustomerID]; !ok {
			return fmt.Errorf("%w: account %d belongs to unknown customer %d", ErrInconsistent, a.ID, a.CustomerID)
		}
		if _, dup := b.lookupAccount(a.CustomerID, a.Name); dup {
			return fmt.Errorf("%w: customer %d has two accounts named %q", ErrInconsistent, a.CustomerID, a.Name)
		}
		b.accounts[a.ID] = a
		b.owned[a.CustomerID] = append(b.owned[a.CustomerID], a.ID)
		b.bump(store.SeqAccounts, a.ID)
	}

	for _, o := range snap.Offers {
		b.offers[o.ID] = o
		b.bump(store.SeqOffers, o.ID)
	}
	for _, r := range snap.Requests {
		b.requests[r.ID] = r
		b.bump(store.SeqRequests, r.ID)
	}
	for _, l := range snap.Loans {
		b.loans = append(b.loans, l)
		b.bump(store.SeqLoans, l.ID)
	}
	b.journal = append(b.journal, snap.Transactions...)

	for name, v := range snap.Sequences {
		b.bump(name, v)
	}
	return nil
}

func (b *Bank) bump(name string, v int64) {
	if v > b.seq[name] {
		b.seq[name] = v
	}
}

// next returns the id the named sequence would hand out. Nothing is
// reserved until a changeset carrying it commits.
func (b *Bank) next(name string) int64 {
	return b.seq[name] + 1
}

// update runs build under the write lock and commits the changeset it
// returns. Memory changes only after the store accepted the write.
func (b *Bank) update(ctx context.Context, op string, build func() (*store.Changeset, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cs, err := build()
	if err != nil {
		return err
	}
	if err := b.store.Apply(ctx, cs); err != nil {
		metrics.StoreWriteFailures.WithLabelValues(op).Inc()
		log.Printf("ledger: STORE WRITE FAILED during %s, nothing was changed: %v", op, err)
		return fmt.Errorf("%w: %s: %w", ErrStoreIO, op, err)
	}
	b.apply(cs)
	return nil
}

// apply mirrors a committed changeset into memory.
func (b *Bank) apply(cs *store.Changeset) {
	for _, c := range cs.Customers {
		b.customers[c.ID] = c
		b.usernames[c.Username] = c.ID
	}
	for _, id := range cs.DeletedAccounts {
		a, ok := b.accounts[id]
		if !ok {
			continue
		}
		delete(b.accounts, id)
		ids := b.owned[a.CustomerID]
		for i, v := range ids {
			if v == id {
				b.owned[a.CustomerID] = append(ids[:i:i], ids[i+1:]...)
				break
			}
		}
	}
	for _, a := range cs.Accounts {
		if _, exists := b.accounts[a.ID]; !exists {
			b.owned[a.CustomerID] = append(b.owned[a.CustomerID], a.ID)
		}
		b.accounts[a.ID] = a
	}
	for _, r := range cs.Requests {
		b.requests[r.ID] = r
	}
	for _, o := range cs.Offers {
		b.offers[o.ID] = o
	}
	for _, id := range cs.ConsumedRequests {
		delete(b.requests, id)
	}
	for _, id := range cs.ConsumedOffers {
		delete(b.offers, id)
	}
	b.loans = append(b.loans, cs.Loans...)
	b.journal = append(b.journal, cs.Transactions...)
	for name, v := range cs.Sequences {
		b.bump(name, v)
	}
}

func (b *Bank) publish(ctx context.Context, stream, eventType string, data any) {
	e := events.Event{Type: eventType, Timestamp: b.now().UTC(), Data: data}
	if err := b.notifier.Publish(ctx, stream, e); err != nil {
		log.Printf("ledger: failed to publish %s event: %v", eventType, err)
	}
}

// credit adds amount to account unless the balance would overflow.
func credit(account *models.Account, amount money.Amount) error {
	sum, ok := account.Balance.Add(amount)
	if !ok {
		return ErrBalanceLimit
	}
	account.Balance = sum
	return nil
}

func (b *Bank) journalEntry(txType string, customerID, counterpartyID int64, amount money.Amount) models.Transaction {
	return models.Transaction{
		ID:             b.newTxID(),
		CustomerID:     customerID,
		CounterpartyID: counterpartyID,
		Type:           txType,
		Amount:         amount,
		CreatedAt:      b.now().UTC(),
	}
}

// Flush overwrites the stored customers and accounts with the in-memory
// ones.
func (b *Bank) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	customers := make([]models.Customer, 0, len(b.customers))
	for _, c := range b.customers {
		customers = append(customers, c)
	}
	sort.Slice(customers, func(i, j int) bool { return customers[i].ID < customers[j].ID })

	accounts := make([]models.Account, 0, len(b.accounts))
	for _, a := range b.accounts {
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })

	if err := b.store.Flush(ctx, customers, accounts); err != nil {
		metrics.StoreWriteFailures.WithLabelValues("flush").Inc()
		log.Printf("ledger: STORE FLUSH FAILED: %v", err)
		return fmt.Errorf("%w: flush: %w", ErrStoreIO, err)
	}
	return nil
}
