package middleware

import (
	"context"
	"strings"

	pkgerrors "arenaoj/pkg/errors"
	"arenaoj/pkg/utils/contextkey"
	"arenaoj/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	userIDContextKey   = "user_id"
	userRoleContextKey = "user_role"
)

// UserClaims is the JWT payload carried by access tokens.
type UserClaims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier validates bearer tokens and extracts user claims.
type TokenVerifier struct {
	secret []byte
	issuer string
}

func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer}
}

func (v *TokenVerifier) Verify(tokenString string) (*UserClaims, error) {
	if tokenString == "" {
		return nil, pkgerrors.New(pkgerrors.Unauthorized).WithMessage("missing bearer token")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &UserClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.Unauthorized).WithMessage("invalid token")
	}
	if !token.Valid || claims.UserID == "" {
		return nil, pkgerrors.New(pkgerrors.Unauthorized).WithMessage("invalid token claims")
	}
	return claims, nil
}

// Auth enforces JWT validation for protected routes and stores the caller
// identity in both the gin context and the request context.
func Auth(verifier *TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			response.AbortWithErrorCode(c, pkgerrors.ServiceUnavailable, "auth unavailable")
			return
		}

		token := extractBearerToken(c.GetHeader("Authorization"))
		claims, err := verifier.Verify(token)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}

		c.Set(userIDContextKey, claims.UserID)
		c.Set(userRoleContextKey, claims.Role)
		ctx := context.WithValue(c.Request.Context(), contextkey.UserID, claims.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireRole allows only callers whose role matches one of the given roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(userRoleContextKey)
		if !hasRole(role, roles) {
			response.AbortWithErrorCode(c, pkgerrors.Forbidden, "insufficient role")
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated caller id set by Auth.
func UserID(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func hasRole(role string, allowed []string) bool {
	for _, item := range allowed {
		if strings.EqualFold(role, item) {
			return true
		}
	}
	return false
}
