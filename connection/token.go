package connection

import (
	"context"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lexfront/connkit/errors"
)

// TokenSource mints the bearer token sent with each handshake.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenConfig configures SignedTokenSource.
type TokenConfig struct {
	Secret   string        `yaml:"secret" mapstructure:"secret"`
	Issuer   string        `yaml:"issuer" mapstructure:"issuer"`
	Subject  string        `yaml:"subject" mapstructure:"subject"`
	Audience string        `yaml:"audience" mapstructure:"audience"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl" validate:"gte=0"`
}

// SignedTokenSource mints short-lived HS256 tokens. A fresh token is minted
// for every dial so reconnects never present an expired one.
type SignedTokenSource struct {
	cfg TokenConfig
	now func() time.Time
}

// NewSignedTokenSource returns a token source, or a CONFIGURATION_ISSUE error
// when the secret is empty.
func NewSignedTokenSource(cfg TokenConfig) (*SignedTokenSource, error) {
	if cfg.Secret == "" {
		return nil, errors.ConfigurationIssue("connection.token.secret", "must not be empty")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	return &SignedTokenSource{cfg: cfg, now: time.Now}, nil
}

// Token implements TokenSource.
func (s *SignedTokenSource) Token(context.Context) (string, error) {
	now := s.now()
	claims := gojwt.RegisteredClaims{
		Issuer:    s.cfg.Issuer,
		Subject:   s.cfg.Subject,
		IssuedAt:  gojwt.NewNumericDate(now),
		NotBefore: gojwt.NewNumericDate(now),
		ExpiresAt: gojwt.NewNumericDate(now.Add(s.cfg.TTL)),
		ID:        uuid.NewString(),
	}
	if s.cfg.Audience != "" {
		claims.Audience = gojwt.ClaimStrings{s.cfg.Audience}
	}
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
}
