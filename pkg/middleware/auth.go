package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prohmpiriya/ticketing-core/pkg/response"
)

const (
	// UserIDHeader is set by the API gateway after it authenticated the caller
	UserIDHeader = "X-User-ID"
	// UserRoleHeader accompanies UserIDHeader
	UserRoleHeader = "X-User-Role"

	ContextKeyUserID = "user_id"
	ContextKeyEmail  = "email"
	ContextKeyRole   = "role"
)

// AccessClaims are the claims of an access token issued by the auth service
type AccessClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// AuthConfig configures Authenticate
type AuthConfig struct {
	Secret string
	Issuer string
	// TrustGatewayHeaders accepts X-User-ID when no bearer token is present
	TrustGatewayHeaders bool
}

// Authenticate resolves the caller from a bearer token or, behind the
// gateway, from the forwarded user headers.
func Authenticate(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if header := c.GetHeader("Authorization"); header != "" {
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				response.Abort(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid authorization header format")
				return
			}

			claims, err := ParseAccessToken(token, cfg.Secret, cfg.Issuer)
			if err != nil {
				response.Abort(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
				return
			}

			c.Set(ContextKeyUserID, claims.UserID)
			c.Set(ContextKeyEmail, claims.Email)
			c.Set(ContextKeyRole, claims.Role)
			c.Next()
			return
		}

		if cfg.TrustGatewayHeaders {
			if userID := c.GetHeader(UserIDHeader); userID != "" {
				c.Set(ContextKeyUserID, userID)
				c.Set(ContextKeyRole, c.GetHeader(UserRoleHeader))
				c.Next()
				return
			}
		}

		response.Abort(c, http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header is required")
	}
}

// RequireRole rejects callers whose role is not in roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextKeyRole)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		response.Abort(c, http.StatusForbidden, "FORBIDDEN", "Insufficient role for this resource")
	}
}

// GetUserID returns the authenticated user id
func GetUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(ContextKeyUserID)
	return userID, userID != ""
}

// ParseAccessToken validates an HS256 access token
func ParseAccessToken(tokenString, secret, issuer string) (*AccessClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
