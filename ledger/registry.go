package ledger

import (
	"context"
	"sort"

	"go-microbank/events"
	"go-microbank/models"
	"go-microbank/money"
	"go-microbank/store"
)

// CreateCustomer registers a customer together with a "main" account
// holding the initial deposit.
func (b *Bank) CreateCustomer(ctx context.Context, username, passwordHash string, deposit money.Amount) (models.Customer, error) {
	if deposit < 0 {
		return models.Customer{}, ErrInvalidAmount
	}

	var customer models.Customer
	var main models.Account
	err := b.update(ctx, "create customer", func() (*store.Changeset, error) {
		if _, taken := b.usernames[username]; taken {
			return nil, ErrUsernameTaken
		}
		now := b.now().UTC()
		customer = models.Customer{
			ID:           b.next(store.SeqCustomers),
			Username:     username,
			PasswordHash: passwordHash,
			CreatedAt:    now,
		}
		main = models.Account{
			ID:         b.next(store.SeqAccounts),
			CustomerID: customer.ID,
			Name:       models.MainAccountName,
			Balance:    deposit,
			CreatedAt:  now,
		}

		cs := &store.Changeset{
			Customers: []models.Customer{customer},
			Accounts:  []models.Account{main},
		}
		if deposit > 0 {
			tx := b.journalEntry(models.TxOpeningDeposit, customer.ID, 0, deposit)
			tx.ToAccountID = main.ID
			cs.Transactions = append(cs.Transactions, tx)
		}
		cs.SetSequence(store.SeqCustomers, customer.ID)
		cs.SetSequence(store.SeqAccounts, main.ID)
		return cs, nil
	})
	if err != nil {
		return models.Customer{}, err
	}

	b.publish(ctx, events.CustomerEventsStream, events.CustomerRegistered, events.CustomerRegisteredEvent{
		CustomerID: customer.ID,
		Username:   customer.Username,
	})
	b.publish(ctx, events.AccountEventsStream, events.AccountCreated, main)
	return customer, nil
}

// CreateAccount opens another named account for customerID.
func (b *Bank) CreateAccount(ctx context.Context, customerID int64, name string, deposit money.Amount) (models.Account, error) {
	if deposit < 0 {
		return models.Account{}, ErrInvalidAmount
	}

	var account models.Account
	err := b.update(ctx, "create account", func() (*store.Changeset, error) {
		if _, ok := b.customers[customerID]; !ok {
			return nil, ErrCustomerNotFound
		}
		if _, exists := b.lookupAccount(customerID, name); exists {
			return nil, ErrDuplicateAccountName
		}
		account = models.Account{
			ID:         b.next(store.SeqAccounts),
			CustomerID: customerID,
			Name:       name,
			Balance:    deposit,
			CreatedAt:  b.now().UTC(),
		}

		cs := &store.Changeset{Accounts: []models.Account{account}}
		if deposit > 0 {
			tx := b.journalEntry(models.TxOpeningDeposit, customerID, 0, deposit)
			tx.ToAccountID = account.ID
			cs.Transactions = append(cs.Transactions, tx)
		}
		cs.SetSequence(store.SeqAccounts, account.ID)
		return cs, nil
	})
	if err != nil {
		return models.Account{}, err
	}

	b.publish(ctx, events.AccountEventsStream, events.AccountCreated, account)
	return account, nil
}

// DeleteAccount closes a named account. Whatever balance it still holds
// moves to the customer's main account in the same write.
func (b *Bank) DeleteAccount(ctx context.Context, customerID int64, name string) (models.Account, error) {
	if name == models.MainAccountName {
		return models.Account{}, ErrProtectedAccount
	}

	var closed models.Account
	err := b.update(ctx, "delete account", func() (*store.Changeset, error) {
		if _, ok := b.customers[customerID]; !ok {
			return nil, ErrCustomerNotFound
		}
		account, ok := b.lookupAccount(customerID, name)
		if !ok {
			return nil, ErrAccountNotFound
		}
		closed = account

		cs := &store.Changeset{DeletedAccounts: []int64{account.ID}}
		if account.Balance != 0 {
			main, ok := b.lookupAccount(customerID, models.MainAccountName)
			if !ok {
				return nil, ErrAccountNotFound
			}
			if err := credit(&main, account.Balance); err != nil {
				return nil, err
			}
			tx := b.journalEntry(models.TxAccountClosure, customerID, 0, account.Balance)
			tx.FromAccountID = account.ID
			tx.ToAccountID = main.ID
			cs.Accounts = []models.Account{main}
			cs.Transactions = []models.Transaction{tx}
		}
		return cs, nil
	})
	if err != nil {
		return models.Account{}, err
	}

	b.publish(ctx, events.AccountEventsStream, events.AccountDeleted, events.AccountDeletedEvent{
		CustomerID: customerID,
		AccountID:  closed.ID,
		Name:       closed.Name,
		Swept:      closed.Balance.String(),
	})
	return closed, nil
}

// lookupAccount must be called with the lock held.
func (b *Bank) lookupAccount(customerID int64, name string) (models.Account, bool) {
	for _, id := range b.owned[customerID] {
		if a := b.accounts[id]; a.Name == name {
			return a, true
		}
	}
	return models.Account{}, false
}

func (b *Bank) Customer(id int64) (models.Customer, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.customers[id]
	return c, ok
}

func (b *Bank) FindByUsername(username string) (models.Customer, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.usernames[username]
	if !ok {
		return models.Customer{}, false
	}
	return b.customers[id], true
}

func (b *Bank) FindAccountByName(customerID int64, name string) (models.Account, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lookupAccount(customerID, name)
}

// Accounts lists a customer's accounts in creation order.
func (b *Bank) Accounts(customerID int64) []models.Account {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := b.owned[customerID]
	accounts := make([]models.Account, 0, len(ids))
	for _, id := range ids {
		accounts = append(accounts, b.accounts[id])
	}
	return accounts
}

// Usernames lists every registered username, sorted.
func (b *Bank) Usernames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.usernames))
	for name := range b.usernames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TotalBalance sums every account in the bank.
func (b *Bank) TotalBalance() money.Amount {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total money.Amount
	for _, a := range b.accounts {
		total += a.Balance
	}
	return total
}
