package validation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/navikt/token-support-sub000/token"
)

// DefaultClockSkew is the tolerance applied to exp, nbf and iat checks.
const DefaultClockSkew = 60 * time.Second

// DefaultRequiredClaims must be present in every token unless an issuer marks
// them optional.
var DefaultRequiredClaims = []string{"aud", "exp", "iat", "iss", "sub"}

// ValidatorConfig binds a Validator to one issuer.
type ValidatorConfig struct {
	// IssuerName is the configured short name.
	IssuerName string
	// Issuer is the exact iss value published in the issuer's metadata.
	Issuer            string
	AcceptedAudiences []string
	OptionalClaims    []string
	Keys              KeySource
	ClockSkew         time.Duration
	Now               func() time.Time
}

// Validator verifies signature and claims of tokens from a single issuer.
// Tokens must be RS256 signed.
type Validator struct {
	issuerName       string
	issuer           string
	accepted         map[string]struct{}
	required         []string
	audienceRequired bool
	keys             KeySource
	skew             time.Duration
	now              func() time.Time
	parser           *jwt.Parser
}

// NewValidator builds a Validator. Keys and Issuer are required.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	if cfg.Keys == nil {
		return nil, errors.New("validator: key source is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("validator: issuer is required")
	}
	optional := make(map[string]struct{}, len(cfg.OptionalClaims))
	for _, c := range cfg.OptionalClaims {
		optional[c] = struct{}{}
	}
	var required []string
	for _, c := range DefaultRequiredClaims {
		if _, skip := optional[c]; !skip {
			required = append(required, c)
		}
	}
	sort.Strings(required)

	accepted := make(map[string]struct{}, len(cfg.AcceptedAudiences))
	for _, a := range cfg.AcceptedAudiences {
		if a != "" {
			accepted[a] = struct{}{}
		}
	}
	_, audOptional := optional["aud"]
	if !audOptional && len(accepted) == 0 {
		return nil, fmt.Errorf("validator: issuer %q requires aud but accepts no audiences", cfg.IssuerName)
	}

	skew := cfg.ClockSkew
	if skew < 0 {
		skew = 0
	} else if skew == 0 {
		skew = DefaultClockSkew
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Validator{
		issuerName:       cfg.IssuerName,
		issuer:           cfg.Issuer,
		accepted:         accepted,
		required:         required,
		audienceRequired: !audOptional,
		keys:             cfg.Keys,
		skew:             skew,
		now:              now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// IssuerName returns the configured short name.
func (v *Validator) IssuerName() string { return v.issuerName }

// Issuer returns the iss value tokens must carry.
func (v *Validator) Issuer() string { return v.issuer }

// Verify checks the signature against the issuer's key set and then the
// issuer, required claims, audience and time claims.
func (v *Validator) Verify(ctx context.Context, encoded string) (*token.JWT, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(encoded, jwt.MapClaims{})
	if err != nil {
		return nil, v.fail(nil, fmt.Errorf("%w: %v", ErrMalformedToken, err))
	}
	peeked, _ := unverified.Claims.(jwt.MapClaims)

	claims, err := v.verifySignature(ctx, encoded, unverified.Header)
	if err != nil {
		return nil, v.fail(peeked, err)
	}
	if err := v.verifyClaims(claims); err != nil {
		return nil, v.fail(claims, err)
	}
	return token.NewJWT(encoded, v.issuerName, claims), nil
}

func (v *Validator) fail(claims jwt.MapClaims, err error) error {
	ve := &ValidationError{Issuer: v.issuerName, Err: err}
	if exp, ok := token.ExpiryOf(claims); ok {
		ve.ExpiresAt = &exp
	}
	return ve
}

func (v *Validator) verifySignature(ctx context.Context, encoded string, header map[string]any) (jwt.MapClaims, error) {
	set, err := v.keys.KeySet(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	kid, _ := header["kid"].(string)
	candidates, err := candidateKeys(set, kid)
	if errors.Is(err, errUnknownKeyID) {
		// Signing key may have rotated since the last fetch.
		if r, ok := v.keys.(refresher); ok {
			if set, rerr := r.Refresh(ctx); rerr == nil {
				candidates, err = candidateKeys(set, kid)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var lastErr error
	for _, key := range candidates {
		claims := jwt.MapClaims{}
		_, err := v.parser.ParseWithClaims(encoded, claims, func(*jwt.Token) (any, error) { return key, nil })
		if err == nil {
			return claims, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, lastErr)
}

var errUnknownKeyID = errors.New("key id not found in JWKS")

// candidateKeys returns the key named by kid, or every RSA key in the set
// when the token carries no kid.
func candidateKeys(set jwk.Set, kid string) ([]any, error) {
	if kid != "" {
		key, found := set.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("%w: %q", errUnknownKeyID, kid)
		}
		var raw any
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("export key %q: %w", kid, err)
		}
		return []any{raw}, nil
	}
	var out []any
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok || key.KeyType() != jwa.RSA {
			continue
		}
		var raw any
		if err := key.Raw(&raw); err != nil {
			continue
		}
		out = append(out, raw)
	}
	if len(out) == 0 {
		return nil, errors.New("no RSA keys in JWKS")
	}
	return out, nil
}

func (v *Validator) verifyClaims(claims jwt.MapClaims) error {
	iss, err := claims.GetIssuer()
	if err != nil || iss != v.issuer {
		return fmt.Errorf("%w: expected %q, got %q", ErrInvalidIssuer, v.issuer, iss)
	}

	for _, name := range v.required {
		if val, ok := claims[name]; !ok || val == nil {
			return fmt.Errorf("%w: %s", ErrMissingClaim, name)
		}
	}

	if err := v.verifyAudience(claims); err != nil {
		return err
	}
	return v.verifyTimes(claims)
}

func (v *Validator) verifyAudience(claims jwt.MapClaims) error {
	_, present := claims["aud"]
	switch {
	case v.audienceRequired:
	case len(v.accepted) == 0:
		return nil
	case !present:
		return nil
	}
	auds, err := claims.GetAudience()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAudience, err)
	}
	for _, a := range auds {
		if _, ok := v.accepted[a]; ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrInvalidAudience, []string(auds))
}

func (v *Validator) verifyTimes(claims jwt.MapClaims) error {
	now := v.now()

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return fmt.Errorf("%w: exp: %v", ErrMalformedToken, err)
	}
	if exp != nil && !exp.After(now.Add(-v.skew)) {
		return fmt.Errorf("%w: exp %s", ErrTokenExpired, exp.UTC().Format(time.RFC3339))
	}

	nbf, err := claims.GetNotBefore()
	if err != nil {
		return fmt.Errorf("%w: nbf: %v", ErrMalformedToken, err)
	}
	if nbf != nil && nbf.After(now.Add(v.skew)) {
		return fmt.Errorf("%w: nbf %s", ErrTokenNotYetValid, nbf.UTC().Format(time.RFC3339))
	}

	iat, err := claims.GetIssuedAt()
	if err != nil {
		return fmt.Errorf("%w: iat: %v", ErrMalformedToken, err)
	}
	if iat != nil && iat.After(now.Add(v.skew)) {
		return fmt.Errorf("%w: iat %s", ErrIssuedInFuture, iat.UTC().Format(time.RFC3339))
	}
	return nil
}
