package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"go-microbank/ledger"
	"go-microbank/metrics"
)

var errorStatuses = []struct {
	err     error
	status  int
	outcome string
}{
	{ledger.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{ledger.ErrAccountNotFound, http.StatusNotFound, "account_not_found"},
	{ledger.ErrDuplicateAccountName, http.StatusConflict, "duplicate_account_name"},
	{ledger.ErrProtectedAccount, http.StatusForbidden, "protected_account"},
	{ledger.ErrRecipientNotFound, http.StatusNotFound, "recipient_not_found"},
	{ledger.ErrInvalidInterestRate, http.StatusBadRequest, "invalid_interest_rate"},
	{ledger.ErrNoSuchOfferOrRequest, http.StatusNotFound, "no_such_offer_or_request"},
	{ledger.ErrSelfDealing, http.StatusForbidden, "self_dealing"},
	{ledger.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{ledger.ErrSameAccount, http.StatusBadRequest, "same_account"},
	{ledger.ErrUsernameTaken, http.StatusConflict, "username_taken"},
	{ledger.ErrCustomerNotFound, http.StatusNotFound, "customer_not_found"},
	{ledger.ErrInvalidRole, http.StatusBadRequest, "invalid_role"},
	{ledger.ErrBalanceLimit, http.StatusUnprocessableEntity, "balance_limit"},
	{ledger.ErrStoreIO, http.StatusServiceUnavailable, "store_failure"},
}

// respondError maps a ledger error to its status and counts the outcome.
func respondError(c *gin.Context, op string, err error) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			metrics.RecordOperation(op, e.outcome)
			message := err.Error()
			if e.status == http.StatusServiceUnavailable {
				message = "Changes could not be saved, please try again later"
			}
			c.JSON(e.status, gin.H{"error": message})
			return
		}
	}
	metrics.RecordOperation(op, "error")
	log.Printf("api: %s failed: %v", op, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

func respond(c *gin.Context, op string, status int, body any) {
	metrics.RecordOperation(op, "ok")
	c.JSON(status, body)
}
