package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/helpdesk/internal/errs"
	"github.com/example/helpdesk/internal/models"
)

const principalKey = "helpdesk.principal"

// Middleware rejects requests without a valid bearer token and stores the
// authenticated principal on the gin context.
func Middleware(tokens *TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			unauthenticated(c, "missing Authorization header")
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			unauthenticated(c, "expected 'Bearer <token>'")
			return
		}
		claims, err := tokens.Validate(token)
		if err != nil {
			unauthenticated(c, "invalid or expired token")
			return
		}
		c.Set(principalKey, claims.Principal())
		c.Next()
	}
}

// PrincipalFrom returns the principal stored by Middleware.
func PrincipalFrom(c *gin.Context) (models.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return models.Principal{}, false
	}
	p, ok := v.(models.Principal)
	return p, ok
}

func unauthenticated(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": msg,
		"kind":  errs.KindUnauthenticated,
	})
}
