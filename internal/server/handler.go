package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/smartbank/ledger-core/internal/auth"
	"github.com/smartbank/ledger-core/internal/interfaces"
	"github.com/smartbank/ledger-core/internal/ledger"
	"github.com/smartbank/ledger-core/internal/models"
)

// Handler is the thin HTTP adapter over the ledger engine and the auth
// service. It translates request shapes to operations and engine errors to
// status codes; all financial semantics live in the engine.
type Handler struct {
	engine   *ledger.Engine
	auth     *auth.Service
	accounts interfaces.AccountStore
	txlog    interfaces.TransactionLog
	logger   *zap.Logger
}

func NewHandler(engine *ledger.Engine, authSvc *auth.Service, accounts interfaces.AccountStore, txlog interfaces.TransactionLog, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine:   engine,
		auth:     authSvc,
		accounts: accounts,
		txlog:    txlog,
		logger:   logger,
	}
}

type registerRequest struct {
	Email    string      `json:"email" binding:"required,email"`
	Password string      `json:"password" binding:"required"`
	FullName string      `json:"full_name"`
	Role     models.Role `json:"role"`
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	user, err := h.auth.Register(c.Request.Context(), req.Email, req.Password, req.FullName, req.Role)
	if err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "user with email exists"})
			return
		}
		h.logger.Error("register failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"msg": "user created", "user": user})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	token, _, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": "invalid credentials"})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
}

func (h *Handler) MyAccount(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "not authenticated"})
		return
	}

	acct, err := h.accounts.ByOwner(c.Request.Context(), principal.ID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "account not found"})
			return
		}
		h.logger.Error("account lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, acct)
}

type transactionRequest struct {
	Type        string          `json:"type" binding:"required"`
	FromAccount string          `json:"from_account"`
	ToAccount   string          `json:"to_account"`
	Amount      decimal.Decimal `json:"amount"`
}

func (h *Handler) CreateTransaction(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "not authenticated"})
		return
	}

	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	idemKey := c.GetHeader(idempotencyHeader)

	var op ledger.Operation
	switch models.TransactionType(req.Type) {
	case models.TypeDeposit:
		op = ledger.Deposit{To: req.ToAccount, Amount: req.Amount, IdempotencyKey: idemKey}
	case models.TypeWithdraw:
		op = ledger.Withdraw{From: req.FromAccount, Amount: req.Amount, IdempotencyKey: idemKey}
	case models.TypeTransfer:
		op = ledger.Transfer{From: req.FromAccount, To: req.ToAccount, Amount: req.Amount, IdempotencyKey: idemKey}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"detail": "unknown transaction type"})
		return
	}

	res, err := h.engine.Execute(c.Request.Context(), op, principal)
	if err != nil {
		h.writeOperationError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
		c.Header("X-Idempotency-Hit", "true")
	}
	c.JSON(status, res)
}

// writeOperationError maps engine errors to HTTP status codes.
// ErrCompensationFailed is deliberately not exposed as a client error: it
// means the ledger needs operational attention, so the client sees a 500 and
// the details go to the log.
func (h *Handler) writeOperationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrCompensationFailed):
		h.logger.Error("transaction left ledger inconsistent", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal inconsistency detected; contact support"})
	case errors.Is(err, ledger.ErrDestinationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrMissingField),
		errors.Is(err, ledger.ErrSameAccount):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	case errors.Is(err, auth.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"detail": err.Error()})
	default:
		h.logger.Error("transaction failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
	}
}

func (h *Handler) Statements(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "not authenticated"})
		return
	}

	var from, to time.Time
	if s := c.Query("start_date"); s != "" {
		parsed, err := time.Parse("2006-01-02", s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "start_date must be YYYY-MM-DD"})
			return
		}
		from = parsed
	}
	if s := c.Query("end_date"); s != "" {
		parsed, err := time.Parse("2006-01-02", s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "end_date must be YYYY-MM-DD"})
			return
		}
		// include the whole end day
		to = parsed.AddDate(0, 0, 1)
	}

	acct, err := h.accounts.ByOwner(c.Request.Context(), principal.ID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "account not found"})
			return
		}
		h.logger.Error("account lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
		return
	}

	txs, err := h.txlog.ByAccount(c.Request.Context(), acct.ID, from, to)
	if err != nil {
		h.logger.Error("statement query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	c.JSON(http.StatusOK, txs)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
