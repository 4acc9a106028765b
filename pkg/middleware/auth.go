package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/prohmpiriya/ticket-registry/pkg/response"
)

const (
	// ContextKeyUserID holds the authenticated account id
	ContextKeyUserID = "user_id"
	// ContextKeyClaims holds the parsed token claims
	ContextKeyClaims = "claims"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrMissingSub   = errors.New("token has no subject")
)

// JWTConfig configures the JWT middleware
type JWTConfig struct {
	Secret string
	// Issuer, when set, must match the iss claim
	Issuer string
}

// JWTMiddleware authenticates HS256 bearer tokens and stores the sub claim as the caller id
func JWTMiddleware(cfg *JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := ParseToken(c.GetHeader("Authorization"), cfg)
		if err != nil {
			code := "INVALID_TOKEN"
			if errors.Is(err, ErrTokenExpired) {
				code = "TOKEN_EXPIRED"
			} else if errors.Is(err, ErrMissingToken) {
				code = "MISSING_TOKEN"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorBody(code, err.Error()))
			return
		}

		sub, _ := claims.GetSubject()
		c.Set(ContextKeyUserID, sub)
		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// ParseToken validates an Authorization header value and returns its claims
func ParseToken(header string, cfg *JWTConfig) (jwt.MapClaims, error) {
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(tokenString) == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	token, err := jwt.Parse(strings.TrimSpace(tokenString), func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	if sub, err := claims.GetSubject(); err != nil || sub == "" {
		return nil, ErrMissingSub
	}

	return claims, nil
}

// GetUserID returns the authenticated account id from gin context
func GetUserID(c *gin.Context) (string, bool) {
	v, exists := c.Get(ContextKeyUserID)
	if !exists {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
