package server

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/smartbank/ledger-core/internal/auth"
	"github.com/smartbank/ledger-core/internal/models"
)

const principalKey = "principal"

const (
	idempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
	lockTimeout       = 10 * time.Second
	cacheKeyPrefix    = "idempotency:"
	lockKeyPrefix     = "lock:"
)

// AuthRequired verifies the bearer token and stores the principal on the
// request context.
func AuthRequired(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var tokenStr string
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				tokenStr = parts[1]
			}
		}
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "missing bearer token"})
			return
		}

		principal, err := svc.ParseToken(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "invalid token"})
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

func currentPrincipal(c *gin.Context) (models.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return models.Principal{}, false
	}
	p, ok := v.(models.Principal)
	return p, ok
}

type bodyCaptureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyCaptureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency caches successful responses in Redis keyed by the
// Idempotency-Key header, returning the cached body on replay and rejecting
// concurrent requests with the same key. Requests without the header pass
// through untouched.
func Idempotency(rdb *redis.Client, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(idempotencyHeader)
		if key == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		cacheKey := cacheKeyPrefix + key
		lockKey := lockKeyPrefix + key

		if cached, err := rdb.Get(ctx, cacheKey).Result(); err == nil {
			c.Header("X-Idempotency-Hit", "true")
			c.Data(http.StatusOK, "application/json", []byte(cached))
			c.Abort()
			return
		}

		acquired, err := rdb.SetNX(ctx, lockKey, "processing", lockTimeout).Result()
		if err != nil {
			logger.Warn("idempotency lock acquisition failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
			return
		}
		if !acquired {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"detail": "a request with this idempotency key is currently being processed",
			})
			return
		}
		// The lock release and the cache write must survive a client
		// disconnect; a stranded lock would block retries for its full TTL.
		cleanupCtx := context.WithoutCancel(ctx)
		defer func() {
			if err := rdb.Del(cleanupCtx, lockKey).Err(); err != nil {
				logger.Warn("idempotency lock release failed", zap.Error(err))
			}
		}()

		writer := &bodyCaptureWriter{ResponseWriter: c.Writer}
		c.Writer = writer
		c.Next()

		status := writer.Status()
		if status >= 200 && status < 300 {
			if err := rdb.Set(cleanupCtx, cacheKey, writer.body.String(), idempotencyTTL).Err(); err != nil {
				logger.Warn("idempotency cache write failed", zap.Error(err))
			}
		}
	}
}
