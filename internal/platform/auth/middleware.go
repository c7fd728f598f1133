package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const AccountKey contextKey = "account"

// AccountHeader names the caller directly when running without tokens.
const AccountHeader = "X-Account"

// Claims identify the calling account. Account overrides Subject when set.
type Claims struct {
	jwt.RegisteredClaims
	Account string `json:"account,omitempty"`
}

func (c *Claims) account() string {
	if c.Account != "" {
		return c.Account
	}
	return c.Subject
}

type JWTConfig struct {
	Issuer   string
	Audience string
	// SigningKey is the shared HMAC key tokens are signed with.
	SigningKey []byte
	Skipper    func(echo.Context) bool
}

func (cfg JWTConfig) parse(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token not valid")
	}
	if claims.account() == "" {
		return nil, errors.New("token names no account")
	}
	return claims, nil
}

func bearer(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

// JWTMiddleware resolves the caller account from a bearer token.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}
			tokenStr, err := bearer(c)
			if err != nil {
				return err
			}
			claims, err := cfg.parse(tokenStr)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			setAccount(c, claims.account())
			return next(c)
		}
	}
}

// DevAuthMiddleware trusts the X-Account header and falls back to
// defaultAccount. A bearer token, when present and cfg has a key, is still
// validated.
func DevAuthMiddleware(cfg JWTConfig, defaultAccount string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "" && len(cfg.SigningKey) > 0 {
				return JWTMiddleware(cfg)(next)(c)
			}
			account := strings.TrimSpace(c.Request().Header.Get(AccountHeader))
			if account == "" {
				account = defaultAccount
			}
			setAccount(c, account)
			return next(c)
		}
	}
}

func setAccount(c echo.Context, account string) {
	c.Set(string(AccountKey), account)
	c.SetRequest(c.Request().WithContext(WithAccount(c.Request().Context(), account)))
}

// WithAccount returns a context carrying account as the caller.
func WithAccount(ctx context.Context, account string) context.Context {
	return context.WithValue(ctx, AccountKey, account)
}

func AccountFromContext(ctx context.Context) string {
	account, _ := ctx.Value(AccountKey).(string)
	return account
}

// IssueToken signs a caller token for account, valid for ttl.
func IssueToken(key []byte, issuer, audience, account string, ttl time.Duration) (string, error) {
	if len(key) == 0 {
		return "", errors.New("signing key is empty")
	}
	if account == "" {
		return "", errors.New("account is required")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return tok, nil
}
