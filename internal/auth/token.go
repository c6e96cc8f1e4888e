// Package auth authenticates API callers with HS256 bearer tokens.
package auth

import (
	stderrors "errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/example/helpdesk/internal/errs"
	"github.com/example/helpdesk/internal/models"
)

// Claims are the JWT claims expected by the API. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// Principal converts the claims into the actor the core works with.
func (c *Claims) Principal() models.Principal {
	return models.Principal{UserID: c.Subject, Roles: append([]string(nil), c.Roles...)}
}

// TokenService signs and validates tokens with a shared secret.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret, issuer string, ttl time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue mints a token for the user with the given roles.
func (s *TokenService) Issue(userID string, roles []string) (string, error) {
	if userID == "" {
		return "", errs.Invalid("sub", "user id is required")
	}
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		Roles: roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// Validate parses and validates a token string. Every failure wraps
// errs.ErrUnauthenticated.
func (s *TokenService) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, errors.Wrap(stderrors.Join(errs.ErrUnauthenticated, err), "token validation failed")
	}
	if claims.Subject == "" {
		return nil, errors.Wrap(errs.ErrUnauthenticated, "token subject is required")
	}
	return claims, nil
}
