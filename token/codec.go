package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// claims is the wire form of a token: registered claims plus the type
// discriminator and the type-specific fields.
type claims struct {
	jwt.RegisteredClaims
	TokenType  string `json:"token_type"`
	Email      string `json:"email,omitempty"`
	ProviderID string `json:"provider_id,omitempty"`
}

// Codec issues and verifies signed, typed, time-bounded tokens. It owns the
// clock; expiry is exclusive (now >= exp means expired).
type Codec struct {
	keys *Keyholder
	now  func() time.Time
}

// NewCodec creates a codec signing with the given key holder
func NewCodec(keys *Keyholder) *Codec {
	return &Codec{
		keys: keys,
		now:  time.Now,
	}
}

// Issue mints a signed token of the given type for the subject
func (c *Codec) Issue(subject string, typ Type, extra Extra, ttl time.Duration) (string, error) {
	if !typ.known() {
		return "", fmt.Errorf("unknown token type %q", typ)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %s", ttl)
	}

	now := c.now()
	cl := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType:  string(typ),
		Email:      extra.Email,
		ProviderID: extra.ProviderID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(c.keys.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse checks the signature and expiry and returns the decoded token with
// its discriminated type. Callers switch on Decoded.Type; Parse itself never
// interprets the type beyond membership in the closed set.
func (c *Codec) Parse(raw string) (*Decoded, error) {
	parsed, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.keys.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(c.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	cl, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if cl.ExpiresAt == nil || cl.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing time bounds", ErrInvalidToken)
	}
	// jwt's own check allows now == exp; the contract here is exclusive
	if !c.now().Before(cl.ExpiresAt.Time) {
		return nil, fmt.Errorf("%w: expired", ErrInvalidToken)
	}

	typ := Type(cl.TokenType)
	if !typ.known() {
		return nil, fmt.Errorf("%w: unknown token type", ErrInvalidToken)
	}

	return &Decoded{
		Subject:    cl.Subject,
		Type:       typ,
		Email:      cl.Email,
		ProviderID: cl.ProviderID,
		IssuedAt:   cl.IssuedAt.Time,
		ExpiresAt:  cl.ExpiresAt.Time,
	}, nil
}

// Verify parses the token and requires it to be of the expected type
func (c *Codec) Verify(raw string, expected Type) (*Decoded, error) {
	d, err := c.Parse(raw)
	if err != nil {
		return nil, err
	}
	if d.Type != expected {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrTypeMismatch, d.Type, expected)
	}
	return d, nil
}

// IsTypeMismatch reports whether err is a type-confusion failure rather than
// a signature or expiry failure
func IsTypeMismatch(err error) bool {
	return errors.Is(err, ErrTypeMismatch)
}
