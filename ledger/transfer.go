package ledger

import (
	"context"

	"go-microbank/events"
	"go-microbank/models"
	"go-microbank/money"
	"go-microbank/store"
)

// InternalTransfer moves amount between two accounts of the same customer.
func (b *Bank) InternalTransfer(ctx context.Context, customerID int64, fromName, toName string, amount money.Amount) (models.Transaction, error) {
	if amount <= 0 {
		return models.Transaction{}, ErrInvalidAmount
	}
	if fromName == toName {
		return models.Transaction{}, ErrSameAccount
	}

	var tx models.Transaction
	err := b.update(ctx, "internal transfer", func() (*store.Changeset, error) {
		from, ok := b.lookupAccount(customerID, fromName)
		if !ok {
			return nil, ErrAccountNotFound
		}
		to, ok := b.lookupAccount(customerID, toName)
		if !ok {
			return nil, ErrAccountNotFound
		}
		if from.Balance < amount {
			return nil, ErrInsufficientFunds
		}

		if err := credit(&to, amount); err != nil {
			return nil, err
		}
		from.Balance -= amount
		tx = b.journalEntry(models.TxInternalTransfer, customerID, 0, amount)
		tx.FromAccountID = from.ID
		tx.ToAccountID = to.ID
		return &store.Changeset{
			Accounts:     []models.Account{from, to},
			Transactions: []models.Transaction{tx},
		}, nil
	})
	if err != nil {
		return models.Transaction{}, err
	}

	b.publish(ctx, events.TransferEventsStream, events.TransferCompleted, tx)
	return tx, nil
}

// ExternalTransfer moves amount from one of the customer's accounts to the
// main account of the customer registered as toUsername.
func (b *Bank) ExternalTransfer(ctx context.Context, customerID int64, toUsername, fromName string, amount money.Amount) (models.Transaction, error) {
	if amount <= 0 {
		return models.Transaction{}, ErrInvalidAmount
	}

	var tx models.Transaction
	err := b.update(ctx, "external transfer", func() (*store.Changeset, error) {
		recipientID, ok := b.usernames[toUsername]
		if !ok {
			return nil, ErrRecipientNotFound
		}
		to, ok := b.lookupAccount(recipientID, models.MainAccountName)
		if !ok {
			return nil, ErrRecipientNotFound
		}
		from, ok := b.lookupAccount(customerID, fromName)
		if !ok {
			return nil, ErrAccountNotFound
		}
		if from.ID == to.ID {
			return nil, ErrSameAccount
		}
		if from.Balance < amount {
			return nil, ErrInsufficientFunds
		}

		if err := credit(&to, amount); err != nil {
			return nil, err
		}
		from.Balance -= amount
		tx = b.journalEntry(models.TxExternalTransfer, customerID, recipientID, amount)
		tx.FromAccountID = from.ID
		tx.ToAccountID = to.ID
		return &store.Changeset{
			Accounts:     []models.Account{from, to},
			Transactions: []models.Transaction{tx},
		}, nil
	})
	if err != nil {
		return models.Transaction{}, err
	}

	b.publish(ctx, events.TransferEventsStream, events.TransferCompleted, tx)
	return tx, nil
}

// Transactions lists the journal entries the customer took part in, oldest
// first.
func (b *Bank) Transactions(customerID int64) []models.Transaction {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []models.Transaction
	for _, tx := range b.journal {
		if tx.Involves(customerID) {
			out = append(out, tx)
		}
	}
	return out
}
