package ledger

import (
	"context"
	"sort"

	"go-microbank/events"
	"go-microbank/models"
	"go-microbank/money"
	"go-microbank/store"
)

// LoanRole selects which side of a loan a listing is filtered by.
type LoanRole string

const (
	RoleTaker  LoanRole = "taker"
	RoleLoaner LoanRole = "loaner"
)

func validateTerms(amount money.Amount, rate money.Rate) error {
	if rate < 0 || rate > money.MaxRequestRate {
		return ErrInvalidInterestRate
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// PostOffer opens an offer to lend amount from the customer's main account.
// The funds are not reserved; they are checked when someone accepts.
func (b *Bank) PostOffer(ctx context.Context, customerID int64, amount money.Amount, rate money.Rate) (models.MicroloanOffer, error) {
	if err := validateTerms(amount, rate); err != nil {
		return models.MicroloanOffer{}, err
	}

	var offer models.MicroloanOffer
	err := b.update(ctx, "post offer", func() (*store.Changeset, error) {
		if _, ok := b.customers[customerID]; !ok {
			return nil, ErrCustomerNotFound
		}
		offer = models.MicroloanOffer{
			ID:           b.next(store.SeqOffers),
			CustomerID:   customerID,
			Amount:       amount,
			InterestRate: rate,
			CreatedAt:    b.now().UTC(),
		}
		cs := &store.Changeset{Offers: []models.MicroloanOffer{offer}}
		cs.SetSequence(store.SeqOffers, offer.ID)
		return cs, nil
	})
	if err != nil {
		return models.MicroloanOffer{}, err
	}

	b.publish(ctx, events.MicroloanEventsStream, events.OfferPosted, offer)
	return offer, nil
}

// SubmitRequest opens a request to borrow amount. The rate is validated
// before any id is allocated.
func (b *Bank) SubmitRequest(ctx context.Context, customerID int64, amount money.Amount, rate money.Rate) (models.MicroloanRequest, error) {
	if err := validateTerms(amount, rate); err != nil {
		return models.MicroloanRequest{}, err
	}

	var req models.MicroloanRequest
	err := b.update(ctx, "submit request", func() (*store.Changeset, error) {
		if _, ok := b.customers[customerID]; !ok {
			return nil, ErrCustomerNotFound
		}
		req = models.MicroloanRequest{
			ID:           b.next(store.SeqRequests),
			CustomerID:   customerID,
			Amount:       amount,
			InterestRate: rate,
			CreatedAt:    b.now().UTC(),
		}
		cs := &store.Changeset{Requests: []models.MicroloanRequest{req}}
		cs.SetSequence(store.SeqRequests, req.ID)
		return cs, nil
	})
	if err != nil {
		return models.MicroloanRequest{}, err
	}

	b.publish(ctx, events.MicroloanEventsStream, events.RequestSubmitted, req)
	return req, nil
}

// AcceptOffer lends the offer's amount from its owner to customerID. The
// offer owner must still hold the funds in their main account.
func (b *Bank) AcceptOffer(ctx context.Context, customerID, offerID int64) (models.Microloan, error) {
	var loan models.Microloan
	err := b.update(ctx, "accept offer", func() (*store.Changeset, error) {
		if _, ok := b.customers[customerID]; !ok {
			return nil, ErrCustomerNotFound
		}
		offer, ok := b.offers[offerID]
		if !ok {
			return nil, ErrNoSuchOfferOrRequest
		}
		if offer.CustomerID == customerID {
			return nil, ErrSelfDealing
		}

		var cs *store.Changeset
		var err error
		cs, loan, err = b.fundLoan(offer.CustomerID, customerID, offer.Amount, offer.InterestRate)
		if err != nil {
			return nil, err
		}
		cs.ConsumedOffers = []int64{offer.ID}
		return cs, nil
	})
	if err != nil {
		return models.Microloan{}, err
	}

	b.publish(ctx, events.MicroloanEventsStream, events.LoanCreated, loan)
	return loan, nil
}

// FulfillRequest lends the request's amount from customerID to the
// requester. The acting customer's main account funds the loan.
func (b *Bank) FulfillRequest(ctx context.Context, customerID, requestID int64) (models.Microloan, error) {
	var loan models.Microloan
	err := b.update(ctx, "fulfill request", func() (*store.Changeset, error) {
		if _, ok := b.customers[customerID]; !ok {
			return nil, ErrCustomerNotFound
		}
		req, ok := b.requests[requestID]
		if !ok {
			return nil, ErrNoSuchOfferOrRequest
		}
		if req.CustomerID == customerID {
			return nil, ErrSelfDealing
		}

		var cs *store.Changeset
		var err error
		cs, loan, err = b.fundLoan(customerID, req.CustomerID, req.Amount, req.InterestRate)
		if err != nil {
			return nil, err
		}
		cs.ConsumedRequests = []int64{req.ID}
		return cs, nil
	})
	if err != nil {
		return models.Microloan{}, err
	}

	b.publish(ctx, events.MicroloanEventsStream, events.LoanCreated, loan)
	return loan, nil
}

// fundLoan builds the money movement and loan record between two main
// accounts. Must be called with the lock held.
func (b *Bank) fundLoan(loanerID, takerID int64, amount money.Amount, rate money.Rate) (*store.Changeset, models.Microloan, error) {
	lender, ok := b.lookupAccount(loanerID, models.MainAccountName)
	if !ok {
		return nil, models.Microloan{}, ErrAccountNotFound
	}
	borrower, ok := b.lookupAccount(takerID, models.MainAccountName)
	if !ok {
		return nil, models.Microloan{}, ErrAccountNotFound
	}
	if lender.Balance < amount {
		return nil, models.Microloan{}, ErrInsufficientFunds
	}
	if err := credit(&borrower, amount); err != nil {
		return nil, models.Microloan{}, err
	}
	lender.Balance -= amount

	now := b.now().UTC()
	loan := models.Microloan{
		ID:           b.next(store.SeqLoans),
		LoanerID:     loanerID,
		TakerID:      takerID,
		Amount:       amount,
		InterestRate: rate,
		ExpiresAt:    now.Add(models.LoanTerm),
		CreatedAt:    now,
	}

	tx := b.journalEntry(models.TxLoanFunding, loanerID, takerID, amount)
	tx.FromAccountID = lender.ID
	tx.ToAccountID = borrower.ID
	tx.LoanID = loan.ID

	cs := &store.Changeset{
		Accounts:     []models.Account{lender, borrower},
		Loans:        []models.Microloan{loan},
		Transactions: []models.Transaction{tx},
	}
	cs.SetSequence(store.SeqLoans, loan.ID)
	return cs, loan, nil
}

// OpenOffers lists the open offers customerID could accept, by id.
func (b *Bank) OpenOffers(customerID int64) []models.MicroloanOffer {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.MicroloanOffer, 0, len(b.offers))
	for _, o := range b.offers {
		if o.CustomerID != customerID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OpenRequests lists the open requests customerID could fulfill, by id.
func (b *Bank) OpenRequests(customerID int64) []models.MicroloanRequest {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.MicroloanRequest, 0, len(b.requests))
	for _, r := range b.requests {
		if r.CustomerID != customerID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveLoans lists the unpaid loans where customerID plays role.
func (b *Bank) ActiveLoans(customerID int64, role LoanRole) ([]models.Microloan, error) {
	if role != RoleTaker && role != RoleLoaner {
		return nil, ErrInvalidRole
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []models.Microloan
	for _, l := range b.loans {
		if l.Repaid {
			continue
		}
		if (role == RoleTaker && l.TakerID == customerID) || (role == RoleLoaner && l.LoanerID == customerID) {
			out = append(out, l)
		}
	}
	return out, nil
}
