// Package token encodes the self-contained session token handed to the
// browser after a successful login.
//
// Base64Codec is a reversible encoding with no integrity protection: anyone
// able to build the text can claim any identity. Deployments that rely on the
// token server-side must configure a signing key so SignedCodec is used.
// Clients hold no key and read either form with ClientCodec.
package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"deckauth/protocol"
)

// TTL is the validity window of a freshly minted session token.
const TTL = 7 * 24 * time.Hour

// ErrMalformedToken reports token text that cannot be decoded into claims.
var ErrMalformedToken = errors.New("token: malformed")

// Claims are the identity claims carried by a session token.
type Claims struct {
	ProviderID int64  `json:"vk_id"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar,omitempty"`
	ScreenName string `json:"screen_name,omitempty"`
	Email      string `json:"email,omitempty"`
	// ExpiresAt is in epoch milliseconds.
	ExpiresAt int64 `json:"expires"`
}

// ClaimsFor copies a provider profile into claims expiring at expiresAt.
func ClaimsFor(p protocol.Profile, expiresAt int64) Claims {
	return Claims{
		ProviderID: p.ID,
		Name:       p.Name,
		Avatar:     p.Avatar,
		ScreenName: p.ScreenName,
		Email:      p.Email,
		ExpiresAt:  expiresAt,
	}
}

// Profile returns the identity part of the claims.
func (c Claims) Profile() protocol.Profile {
	return protocol.Profile{
		ID:         c.ProviderID,
		Name:       c.Name,
		Avatar:     c.Avatar,
		ScreenName: c.ScreenName,
		Email:      c.Email,
	}
}

// ExpiresAtFrom returns now+ttl in epoch milliseconds.
func ExpiresAtFrom(now time.Time, ttl time.Duration) int64 {
	return now.Add(ttl).UnixMilli()
}

// IsExpired reports whether the claims are no longer valid at now.
func IsExpired(c Claims, now time.Time) bool {
	return c.ExpiresAt <= now.UnixMilli()
}

// Codec converts claims to and from token text.
type Codec interface {
	Encode(Claims) (string, error)
	Decode(string) (Claims, error)
}

// Base64Codec is standard base64 over the JSON claims.
type Base64Codec struct{}

// wireClaims detects a missing expiry, which Claims alone cannot.
type wireClaims struct {
	ProviderID int64  `json:"vk_id"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar"`
	ScreenName string `json:"screen_name"`
	Email      string `json:"email"`
	ExpiresAt  *int64 `json:"expires"`
}

// Encode implements Codec.
func (Base64Codec) Encode(c Claims) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Decode implements Codec.
func (Base64Codec) Decode(text string) (Claims, error) {
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	var w wireClaims
	if err := json.Unmarshal(raw, &w); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if w.ExpiresAt == nil {
		return Claims{}, fmt.Errorf("%w: expires claim missing", ErrMalformedToken)
	}
	return Claims{
		ProviderID: w.ProviderID,
		Name:       w.Name,
		Avatar:     w.Avatar,
		ScreenName: w.ScreenName,
		Email:      w.Email,
		ExpiresAt:  *w.ExpiresAt,
	}, nil
}

// SignedCodec issues HS256 JWTs carrying the same claims.
type SignedCodec struct {
	key    []byte
	issuer string
}

type signedClaims struct {
	Claims
	jwt.RegisteredClaims
}

// NewSignedCodec returns a codec signing with key.
func NewSignedCodec(key []byte, issuer string) (*SignedCodec, error) {
	if len(key) < 32 {
		return nil, errors.New("signing key must be at least 32 bytes")
	}
	return &SignedCodec{key: key, issuer: issuer}, nil
}

// Encode implements Codec.
func (s *SignedCodec) Encode(c Claims) (string, error) {
	claims := signedClaims{
		Claims: c,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(c.ProviderID, 10),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.UnixMilli(c.ExpiresAt)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode implements Codec. Expiry is left to IsExpired.
func (s *SignedCodec) Decode(text string) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	var claims signedClaims
	_, err := parser.ParseWithClaims(text, &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return Claims{}, fmt.Errorf("%w: unexpected issuer %q", ErrMalformedToken, claims.Issuer)
	}
	return claims.Claims, nil
}

// ClientCodec reads the claims of both token forms without checking
// signatures. It suits holders of the token that only need the identity and
// expiry; Encode produces the base64 form.
type ClientCodec struct{}

// Encode implements Codec.
func (ClientCodec) Encode(c Claims) (string, error) {
	return Base64Codec{}.Encode(c)
}

// Decode implements Codec.
func (ClientCodec) Decode(text string) (Claims, error) {
	if strings.Count(text, ".") != 2 {
		return Base64Codec{}.Decode(text)
	}
	var claims signedClaims
	if _, _, err := jwt.NewParser().ParseUnverified(text, &claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return claims.Claims, nil
}
