package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"engagement/crypto"
)

const defaultTokenTTL = time.Hour

// IssuerConfig configures token issuance.
type IssuerConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ScopeClaim string
	TTL        time.Duration
}

// Issuer mints HS256 bearer tokens whose subject is the caller address.
type Issuer struct {
	cfg    IssuerConfig
	secret []byte
	now    func() time.Time
}

func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	secret := []byte(strings.TrimSpace(cfg.HMACSecret))
	if len(secret) == 0 {
		return nil, errors.New("auth: hmac secret required")
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTokenTTL
	}
	return &Issuer{cfg: cfg, secret: secret, now: time.Now}, nil
}

// SetNowFunc overrides the issuance clock.
func (i *Issuer) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	i.now = now
}

// Issue signs a token for identity with the given scopes.
func (i *Issuer) Issue(identity [20]byte, scopes ...string) (string, error) {
	now := i.now()
	claims := jwt.MapClaims{
		"sub": crypto.FormatIdentity(identity),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(i.cfg.TTL).Unix(),
		"jti": uuid.NewString(),
	}
	if i.cfg.Issuer != "" {
		claims["iss"] = i.cfg.Issuer
	}
	if i.cfg.Audience != "" {
		claims["aud"] = i.cfg.Audience
	}
	if len(scopes) > 0 {
		claims[i.cfg.ScopeClaim] = strings.Join(scopes, " ")
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}
