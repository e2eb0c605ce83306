package ledger

import "errors"

var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrAccountNotFound      = errors.New("account not found")
	ErrDuplicateAccountName = errors.New("account name already in use")
	ErrProtectedAccount     = errors.New("the main account cannot be deleted")
	ErrRecipientNotFound    = errors.New("recipient not found")
	ErrInvalidInterestRate  = errors.New("interest rate must be between 0 and 0.5")
	ErrNoSuchOfferOrRequest = errors.New("no such offer or request")
	ErrSelfDealing          = errors.New("cannot take up your own offer or request")
	ErrStoreIO              = errors.New("store write failed")

	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrSameAccount      = errors.New("source and destination are the same account")
	ErrUsernameTaken    = errors.New("username already taken")
	ErrCustomerNotFound = errors.New("customer not found")
	ErrInvalidRole      = errors.New("loan role must be taker or loaner")
	ErrInconsistent     = errors.New("inconsistent stored state")
	ErrBalanceLimit     = errors.New("balance would exceed the largest representable amount")
)
