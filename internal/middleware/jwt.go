package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tp-workflow-api/internal/models"
	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
	"github.com/noah-isme/tp-workflow-api/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// UserIDKey carries the caller id for the request logger.
const UserIDKey = "user_id"

const bearerChallenge = `Bearer realm="tp-workflow"`

// TokenValidator parses access tokens into claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (*models.JWTClaims, error)
}

// JWT requires a bearer access token and stores its claims on the context.
func JWT(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			challenge(c, err)
			return
		}
		claims, err := tokens.ValidateToken(raw)
		if err != nil {
			challenge(c, err)
			return
		}

		c.Set(ContextUserKey, claims)
		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}

// CurrentUser returns the claims JWT stored, if any.
func CurrentUser(c *gin.Context) (*models.JWTClaims, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*models.JWTClaims)
	return claims, ok && claims != nil
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "missing bearer token")
	}
	scheme, token, found := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return token, nil
}

func challenge(c *gin.Context, err error) {
	c.Header("WWW-Authenticate", bearerChallenge)
	response.Error(c, err)
	c.Abort()
}
