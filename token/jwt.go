// Package token holds the token data model shared by inbound validation and
// outbound delegation: raw (unverified) tokens, verified JWTs and the
// per-request set of verified tokens.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// RawToken is an encoded JWT plus its unverified issuer claim. The issuer is
// read without any signature check and must only be used to pick a validator.
type RawToken struct {
	Encoded string
	Issuer  string
}

// ParseUnverified peeks at the iss claim of encoded. Nothing else in the
// token is trusted or inspected.
func ParseUnverified(encoded string) (RawToken, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return RawToken{}, errors.New("token: empty token")
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(encoded, jwt.MapClaims{})
	if err != nil {
		return RawToken{}, fmt.Errorf("token: parse unverified: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return RawToken{}, errors.New("token: unexpected claims type")
	}
	iss, err := claims.GetIssuer()
	if err != nil {
		return RawToken{}, fmt.Errorf("token: read iss: %w", err)
	}
	return RawToken{Encoded: encoded, Issuer: iss}, nil
}

// JWT is a token whose signature and claims have been verified for the issuer
// registered under IssuerName.
type JWT struct {
	encoded    string
	issuerName string
	claims     jwt.MapClaims
}

// NewJWT wraps verified claims. The claims map is copied.
func NewJWT(encoded, issuerName string, claims map[string]any) *JWT {
	c := make(jwt.MapClaims, len(claims))
	for k, v := range claims {
		c[k] = v
	}
	return &JWT{encoded: encoded, issuerName: issuerName, claims: c}
}

// Encoded returns the compact serialization as received.
func (t *JWT) Encoded() string { return t.encoded }

// IssuerName is the configured short name of the issuer that verified this token.
func (t *JWT) IssuerName() string { return t.issuerName }

// Issuer returns the iss claim.
func (t *JWT) Issuer() string {
	iss, _ := t.claims.GetIssuer()
	return iss
}

// Subject returns the sub claim.
func (t *JWT) Subject() string {
	sub, _ := t.claims.GetSubject()
	return sub
}

// Audience returns the aud claim as a list.
func (t *JWT) Audience() []string {
	aud, _ := t.claims.GetAudience()
	return aud
}

// ExpiresAt returns the exp claim if present and parseable.
func (t *JWT) ExpiresAt() (time.Time, bool) {
	return ExpiryOf(t.claims)
}

// ExpiresWithin reports whether the token expires within d of now.
func (t *JWT) ExpiresWithin(d time.Duration, now time.Time) bool {
	exp, ok := t.ExpiresAt()
	if !ok {
		return false
	}
	return !exp.After(now.Add(d))
}

// Claim returns the raw value of a claim.
func (t *JWT) Claim(name string) (any, bool) {
	v, ok := t.claims[name]
	return v, ok
}

// StringClaim returns a claim when it is a string.
func (t *JWT) StringClaim(name string) (string, bool) {
	v, ok := t.claims[name].(string)
	return v, ok
}

// Claims returns a copy of all claims.
func (t *JWT) Claims() map[string]any {
	out := make(map[string]any, len(t.claims))
	for k, v := range t.claims {
		out[k] = v
	}
	return out
}

// ContainsClaim reports whether the claim, treated as a set, contains value.
// A scalar matches on equality, an array on membership and a string also on
// membership of its whitespace separated parts.
func (t *JWT) ContainsClaim(name, value string) bool {
	raw, ok := t.claims[name]
	if !ok {
		return false
	}
	for _, v := range ClaimValues(raw) {
		if v == value {
			return true
		}
	}
	return false
}

// ClaimValues flattens a claim value into the set of strings it represents.
func ClaimValues(raw any) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		out := []string{v}
		if parts := strings.Fields(v); len(parts) > 1 {
			out = append(out, parts...)
		}
		return out
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := scalarString(e); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		if s, ok := scalarString(v); ok {
			return []string{s}
		}
		return nil
	}
}

func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	default:
		return "", false
	}
}

// ExpiryOf reads exp from a claims map, tolerating absence and bad types.
func ExpiryOf(claims map[string]any) (time.Time, bool) {
	exp, err := jwt.MapClaims(claims).GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
