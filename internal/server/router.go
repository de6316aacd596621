package server

import (
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/smartbank/ledger-core/internal/auth"
)

// NewRouter assembles the gin engine. rdb may be nil, which disables the
// redis-backed idempotency response cache (engine-level idempotency via the
// transaction log still applies).
func NewRouter(h *Handler, authSvc *auth.Service, rdb *redis.Client, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", h.Health)
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)

	customers := r.Group("/customers")
	customers.Use(AuthRequired(authSvc))
	{
		customers.GET("/me/account", h.MyAccount)

		transactions := customers.Group("/transactions")
		if rdb != nil {
			transactions.Use(Idempotency(rdb, logger))
		}
		transactions.POST("", h.CreateTransaction)

		customers.GET("/statements", h.Statements)
	}

	return r
}
