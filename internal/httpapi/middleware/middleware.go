package middleware

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/velonix/chatlytics/internal/auth"
	"github.com/velonix/chatlytics/internal/common"
	"github.com/velonix/chatlytics/internal/tenant"
)

const (
	UserIDKey    = "auth_user_id"
	TenantKey    = "auth_tenant"
	RequestIDKey = "request_id"
)

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("panic recovered: %v", r)
				common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
				c.Abort()
			}
		}()
		c.Next()
	}
}

// AuthRequired guards dashboard endpoints with a bearer JWT.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			c.Abort()
			return
		}
		claims, err := auth.ParseToken(secret, strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
			c.Abort()
			return
		}
		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}

// APIKeyRequired resolves the tenant from the api_key query parameter, the
// contract the embedded chat widget speaks.
func APIKeyRequired(tenants *tenant.Repo) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Query("api_key")
		if key == "" {
			key = c.GetHeader("X-API-Key")
		}
		if key == "" {
			common.Fail(c, http.StatusUnauthorized, 40110, "api key required")
			c.Abort()
			return
		}
		t, err := tenants.GetByAPIKey(c.Request.Context(), key)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				common.Fail(c, http.StatusForbidden, 40310, "invalid api key")
			} else {
				common.Fail(c, http.StatusInternalServerError, 50001, "tenant lookup failed")
			}
			c.Abort()
			return
		}
		if t.Status != "active" {
			common.Fail(c, http.StatusForbidden, 40311, "tenant disabled")
			c.Abort()
			return
		}
		c.Set(TenantKey, t)
		c.Next()
	}
}

// TenantFromContext returns the tenant set by APIKeyRequired.
func TenantFromContext(c *gin.Context) (*tenant.Tenant, bool) {
	v, ok := c.Get(TenantKey)
	if !ok {
		return nil, false
	}
	t, ok := v.(*tenant.Tenant)
	return t, ok
}
