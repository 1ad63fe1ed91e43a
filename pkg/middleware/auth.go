package middleware

import (
	"errors"
	"strings"

	"ecoquest/pkg/config"
	"ecoquest/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const userIDKey = "ecoquest.user_id"

var (
	ErrMissingAuthorization = errors.New("missing authorization header")
	ErrInvalidToken         = errors.New("invalid token")
)

// Authenticator verifies bearer tokens minted by the identity provider.
type Authenticator struct {
	secret []byte
	opts   []jwt.ParserOption
}

func NewAuthenticator(cfg *config.Config) *Authenticator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Auth.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Auth.Issuer))
	}
	if cfg.Auth.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Auth.Audience))
	}
	if cfg.Auth.JWTSecret == "" {
		zap.L().Warn("AUTH.JWT_SECRET is empty, every request will be rejected")
	}

	return &Authenticator{secret: []byte(cfg.Auth.JWTSecret), opts: opts}
}

// Verify returns the subject of a valid token.
func (a *Authenticator) Verify(header string) (string, error) {
	if header == "" {
		return "", ErrMissingAuthorization
	}
	if len(a.secret) == 0 {
		return "", ErrInvalidToken
	}

	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, a.opts...)
	if err != nil || !token.Valid {
		return "", errors.Join(ErrInvalidToken, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// Auth rejects the request with the error envelope unless it carries a
// valid bearer token. Must run after Error().
func (a *Authenticator) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := a.Verify(c.GetHeader("Authorization"))
		if err != nil {
			msg := "Unauthorized"
			if errors.Is(err, ErrMissingAuthorization) {
				msg = "Missing authorization header"
			}
			_ = c.Error(errutil.Unauthorized(msg, err))
			c.Abort()
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated user id set by Auth.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
