package models

import (
	"time"

	"go-microbank/money"
)

// MainAccountName is the settlement account every customer gets at registration.
const MainAccountName = "main"

// LoanTerm is how long a microloan runs before it is due.
const LoanTerm = 7 * 24 * time.Hour

// Customer represents a bank customer
type Customer struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password"` // hex digest, opaque to the ledger
	CreatedAt    time.Time `json:"createdAt"`
}

// Account represents a named account owned by one customer
type Account struct {
	ID         int64        `json:"id"`
	CustomerID int64        `json:"customerId"`
	Name       string       `json:"name"`
	Balance    money.Amount `json:"balance"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// MicroloanOffer is a standing invitation to borrow from CustomerID.
type MicroloanOffer struct {
	ID           int64        `json:"id"`
	CustomerID   int64        `json:"customerId"`
	Amount       money.Amount `json:"amount"`
	InterestRate money.Rate   `json:"interestRate"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// MicroloanRequest is a standing ask from CustomerID to be lent money.
type MicroloanRequest struct {
	ID           int64        `json:"id"`
	CustomerID   int64        `json:"customerId"`
	Amount       money.Amount `json:"amount"`
	InterestRate money.Rate   `json:"interestRate"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// Microloan is a funded loan. Loans are never deleted.
type Microloan struct {
	ID           int64        `json:"id"`
	LoanerID     int64        `json:"fromCustomerId"`
	TakerID      int64        `json:"toCustomerId"`
	Amount       money.Amount `json:"amount"`
	InterestRate money.Rate   `json:"interestRate"`
	ExpiresAt    time.Time    `json:"expiryDate"`
	Repaid       bool         `json:"rePaid"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// Overdue reports whether the loan is unpaid past its expiry.
func (l Microloan) Overdue(now time.Time) bool {
	return !l.Repaid && now.After(l.ExpiresAt)
}

// Transaction types recorded in the journal
const (
	TxInternalTransfer = "internal_transfer"
	TxExternalTransfer = "external_transfer"
	TxLoanFunding      = "loan_funding"
	TxAccountClosure   = "account_closure"
	TxOpeningDeposit   = "opening_deposit"
)

// Transaction is one journal entry describing money that moved.
type Transaction struct {
	ID             string       `json:"id"`
	CustomerID     int64        `json:"customerId"`
	CounterpartyID int64        `json:"counterpartyId,omitempty"`
	Type           string       `json:"type"`
	Amount         money.Amount `json:"amount"`
	FromAccountID  int64        `json:"fromAccountId,omitempty"`
	ToAccountID    int64        `json:"toAccountId,omitempty"`
	LoanID         int64        `json:"loanId,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// Involves reports whether customerID is either side of the transaction.
func (t Transaction) Involves(customerID int64) bool {
	return t.CustomerID == customerID || t.CounterpartyID == customerID
}
