package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultVisitorTTL = 365 * 24 * time.Hour

	tokenIssuer   = "pollwave-api"
	tokenAudience = "pollwave-visitor"
)

var (
	// ErrMissingSigningSecret indicates the issuer was constructed without a key.
	ErrMissingSigningSecret = errors.New("identity: signing secret required")
	// ErrMissingToken indicates an empty token string was presented.
	ErrMissingToken = errors.New("identity: token required")
	// ErrInvalidToken indicates the token failed signature or claim validation.
	ErrInvalidToken = errors.New("identity: invalid token")
)

// IssuerConfig configures the visitor identity issuer.
type IssuerConfig struct {
	SigningSecret []byte
	CookieName    string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// Issuer mints and validates the signed cookie tokens that carry a browser's
// stable opaque visitor id. The id inside is what the poll ledger keys on; the
// signature only stops a client from forging someone else's id.
type Issuer struct {
	signingSecret []byte
	cookieName    string
	tokenTTL      time.Duration
	clock         func() time.Time
}

// NewIssuer constructs an Issuer with sane defaults.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultVisitorTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = "pollwave_visitor"
	}
	return &Issuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		cookieName:    cookieName,
		tokenTTL:      ttl,
		clock:         clock,
	}, nil
}

// CookieName returns the cookie the visitor token travels in.
func (i *Issuer) CookieName() string {
	return i.cookieName
}

// TokenTTL returns the configured token lifetime.
func (i *Issuer) TokenTTL() time.Duration {
	return i.tokenTTL
}

// IssueVisitor mints a fresh visitor id and the signed token carrying it.
func (i *Issuer) IssueVisitor() (string, string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", "", err
	}
	visitorID := value.String()

	token, err := i.signToken(visitorID)
	if err != nil {
		return "", "", err
	}
	return visitorID, token, nil
}

// ValidateToken checks the token signature and registered claims and returns the
// visitor id it carries.
func (i *Issuer) ValidateToken(tokenString string) (string, error) {
	trimmed := strings.TrimSpace(tokenString)
	if trimmed == "" {
		return "", ErrMissingToken
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		trimmed,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.signingSecret, nil
		},
		jwt.WithAudience(tokenAudience),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

func (i *Issuer) signToken(visitorID string) (string, error) {
	now := i.clock().UTC()
	registered := jwt.RegisteredClaims{
		Subject:   visitorID,
		Issuer:    tokenIssuer,
		Audience:  []string{tokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.tokenTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	return token.SignedString(i.signingSecret)
}
