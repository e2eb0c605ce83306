// Package api is the HTTP front end. Each request acts as the customer named
// by its session token.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"go-microbank/ledger"
	"go-microbank/models"
	"go-microbank/money"
	"go-microbank/session"
)

type Handler struct {
	bank   *ledger.Bank
	issuer *session.Issuer
	now    func() time.Time
}

func NewHandler(bank *ledger.Bank, issuer *session.Issuer) *Handler {
	return &Handler{bank: bank, issuer: issuer, now: time.Now}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.health)

	api := r.Group("/api")
	api.POST("/customers", h.register)
	api.POST("/sessions", h.login)

	authed := api.Group("", h.issuer.Middleware())
	authed.GET("/customers", h.listCustomers)

	authed.GET("/accounts", h.listAccounts)
	authed.POST("/accounts", h.createAccount)
	authed.DELETE("/accounts/:name", h.deleteAccount)

	authed.POST("/transfers/internal", h.internalTransfer)
	authed.POST("/transfers/external", h.externalTransfer)
	authed.GET("/transactions", h.listTransactions)

	authed.GET("/microloans", h.listLoans)
	authed.GET("/microloans/offers", h.listOffers)
	authed.POST("/microloans/offers", h.postOffer)
	authed.POST("/microloans/offers/:id/accept", h.acceptOffer)
	authed.GET("/microloans/requests", h.listRequests)
	authed.POST("/microloans/requests", h.submitRequest)
	authed.POST("/microloans/requests/:id/fulfill", h.fulfillRequest)
}

type RegisterRequest struct {
	Username       string       `json:"username" validate:"required,alphanum,min=5,max=25"`
	Password       string       `json:"password" validate:"required,password"`
	InitialDeposit money.Amount `json:"initialDeposit" validate:"gte=0"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type SessionResponse struct {
	CustomerID int64     `json:"customerId"`
	Username   string    `json:"username"`
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type CreateAccountRequest struct {
	Name    string       `json:"name" validate:"required,alphanum,min=3,max=15"`
	Deposit money.Amount `json:"deposit" validate:"gte=0"`
}

type InternalTransferRequest struct {
	FromAccount string       `json:"fromAccount" validate:"required"`
	ToAccount   string       `json:"toAccount" validate:"required"`
	Amount      money.Amount `json:"amount" validate:"gt=0"`
}

type ExternalTransferRequest struct {
	FromAccount string       `json:"fromAccount" validate:"required"`
	Recipient   string       `json:"recipient" validate:"required"`
	Amount      money.Amount `json:"amount" validate:"gt=0"`
}

type LoanTermsRequest struct {
	Amount       money.Amount `json:"amount" validate:"gt=0"`
	InterestRate money.Rate   `json:"interestRate"`
}

type LoanResponse struct {
	models.Microloan
	Overdue bool `json:"overdue"`
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if errs := ValidateRequest(req); errs != nil {
		respondValidationError(c, errs)
		return
	}

	hash, err := session.HashPassword(req.Password)
	if err != nil {
		respondError(c, "register", err)
		return
	}
	customer, err := h.bank.CreateCustomer(c.Request.Context(), req.Username, hash, req.InitialDeposit)
	if err != nil {
		respondError(c, "register", err)
		return
	}

	resp, err := h.newSession(customer)
	if err != nil {
		respondError(c, "register", err)
		return
	}
	respond(c, "register", http.StatusCreated, resp)
}

func (h *Handler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if errs := ValidateRequest(req); errs != nil {
		respondValidationError(c, errs)
		return
	}

	customer, found := h.bank.FindByUsername(req.Username)
	if !found || !session.CheckPassword(customer.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	resp, err := h.newSession(customer)
	if err != nil {
		respondError(c, "login", err)
		return
	}
	respond(c, "login", http.StatusOK, resp)
}

func (h *Handler) newSession(customer models.Customer) (SessionResponse, error) {
	token, expires, err := h.issuer.Issue(customer.ID, customer.Username)
	if err != nil {
		return SessionResponse{}, err
	}
	return SessionResponse{
		CustomerID: customer.ID,
		Username:   customer.Username,
		Token:      token,
		ExpiresAt:  expires,
	}, nil
}

func (h *Handler) listCustomers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"usernames": h.bank.Usernames()})
}

func (h *Handler) listAccounts(c *gin.Context) {
	customerID, _ := session.CustomerID(c)
	c.JSON(http.StatusOK, gin.H{
		"customerId": customerID,
		"accounts":   h.bank.Accounts(customerID),
	})
}

func (h *Handler) createAccount(c *gin.Context) {
	customerID, _ := session.CustomerID(c)
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if errs := ValidateRequest(req); errs != nil {
		respondValidationError(c, errs)
		return
	}

	account, err := h.bank.CreateAccount(c.Request.Context(), customerID, req.Name, req.Deposit)
	if err != nil {
		respondError(c, "create_account", err)
		return
	}
	respond(c, "create_account", http.StatusCreated, account)
}

func (h *Handler) deleteAccount(c *gin.Context) {
	customerID, _ := session.CustomerID(c)
	closed, err := h.bank.DeleteAccount(c.Request.Context(), customerID, c.Param("name"))
	if err != nil {
		respondError(c, "delete_account", err)
		return
	}
	respond(c, "delete_account", http.StatusOK, gin.H{
		"accountId":   closed.ID,
		"name":        closed.Name,
		"movedToMain": closed.Balance,
	})
}

func (h *Handler) internalTransfer(c *gin.Context) {
	customerID, _ := session.CustomerID(c)
	var req InternalTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if errs := ValidateRequest(req); errs != nil {
		respondValidationError(c, errs)
		return
	}

	tx, err := h.bank.InternalTransfer(c.Request.Context(), customerID, req.FromAccount, req.ToAccount, req.Amount)
	if err != nil {
		respondError(c, "internal_transfer", err)
		return
	}
	respond(c, "internal_transfer", http.StatusCreated, tx)
}

func (h *Handler) externalTransfer(c *gin.Context) {
	customerID, _ := session.CustomerID(c)
	var req ExternalTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if errs := ValidateRequest(req); errs != nil {
		respondValidationError(c, errs)
		return
	}

	tx, err := h.bank.ExternalTransfer(c.Request.Context(), customerID, req.Recipient, req.FromAccount, req.Amount)
	if err != nil {
		respondError(c, "external_transfer", err)
		return
	}
	respond(c, "external_transfer", http.StatusCreated, tx)
}

func (h *Handler) listTransactions(c *gin.Context) {
	customerID, _ := session.CustomerID(c)
	txs := h.bank.Transactions(customerID)
	if txType := c.Query("type"); txType != "" {
		filtered := txs[:0:0]
		for _, tx := range txs {
			if tx.Type == txType {
				filtered = append(filtered, tx)
			}
		}
		txs = filtered
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

func (h *Handler) listLoans(c *gin.Context) {
	customerID, _ := session.CustomerID(c)
	role := ledger.LoanRole(c.DefaultQuery("role", string(ledger.RoleTaker)))

	loans, err := h.bank.ActiveLoans(customerID, role)
	if err != nil {
		respondError(c, "list_loans", err)
		return
	}
	now := h.now()
	resp := make([]LoanResponse, 0, len(loans))
	for _, l := range loans {
		resp = append(resp, LoanResponse{Microloan: l, Overdue: l.Overdue(now)})
	}
	c.JSON(http.StatusOK, gin.H{"role": role, "loans": resp})
}

func (h *Handler) listOffers(c *gin.Context) {
	customerID, _ := session.CustomerID(c)
	c.JSON(http.StatusOK, gin.H{"offers": h.bank.OpenOffers(customerID)})
}

func (h *Handler) listRequests(c *gin.Context) {
	customerID, _ := session.CustomerID(c)
	c.JSON(http.StatusOK, gin.H{"requests": h.bank.OpenRequests(customerID)})
}

func (h *Handler) postOffer(c *gin.Context) {
	customerID, _ := session.CustomerID(c)
	var req LoanTermsRequest
	if !bindTerms(c, &req) {
		return
	}

	offer, err := h.bank.PostOffer(c.Request.Context(), customerID, req.Amount, req.InterestRate)
	if err != nil {
		respondError(c, "post_offer", err)
		return
	}
	respond(c, "post_offer", http.StatusCreated, offer)
}

func (h *Handler) submitRequest(c *gin.Context) {
	customerID, _ := session.CustomerID(c)
	var req LoanTermsRequest
	if !bindTerms(c, &req) {
		return
	}

	created, err := h.bank.SubmitRequest(c.Request.Context(), customerID, req.Amount, req.InterestRate)
	if err != nil {
		respondError(c, "submit_request", err)
		return
	}
	respond(c, "submit_request", http.StatusCreated, created)
}

func (h *Handler) acceptOffer(c *gin.Context) {
	customerID, _ := session.CustomerID(c)
	offerID, ok := pathID(c)
	if !ok {
		return
	}

	loan, err := h.bank.AcceptOffer(c.Request.Context(), customerID, offerID)
	if err != nil {
		respondError(c, "accept_offer", err)
		return
	}
	respond(c, "accept_offer", http.StatusCreated, LoanResponse{Microloan: loan})
}

func (h *Handler) fulfillRequest(c *gin.Context) {
	customerID, _ := session.CustomerID(c)
	requestID, ok := pathID(c)
	if !ok {
		return
	}

	loan, err := h.bank.FulfillRequest(c.Request.Context(), customerID, requestID)
	if err != nil {
		respondError(c, "fulfill_request", err)
		return
	}
	respond(c, "fulfill_request", http.StatusCreated, LoanResponse{Microloan: loan})
}

func bindTerms(c *gin.Context, req *LoanTermsRequest) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return false
	}
	if errs := ValidateRequest(req); errs != nil {
		respondValidationError(c, errs)
		return false
	}
	return true
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}
