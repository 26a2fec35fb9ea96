// Package authz decides whether a set of validated tokens satisfies the
// requirement attached to a protected operation.
package authz

import (
	"errors"
	"fmt"
	"strings"

	"github.com/navikt/token-support-sub000/token"
)

// Decision is the outcome of Evaluate. MissingToken and InvalidClaim are kept
// apart so callers can answer 401 and 403 respectively.
type Decision int

const (
	Allow Decision = iota
	MissingToken
	InvalidClaim
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case MissingToken:
		return "missing_token"
	case InvalidClaim:
		return "invalid_claim"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Combinator joins the claim requirements of a ForIssuer.
type Combinator int

const (
	And Combinator = iota
	Or
)

// Requirement is one of Open, AnyValidToken, ForIssuer or AnyOfIssuers.
type Requirement interface {
	requirement()
}

// Open allows every request.
type Open struct{}

// AnyValidToken allows requests carrying at least one validated token.
type AnyValidToken struct{}

// ForIssuer requires a token from Issuer (a configured short name) whose
// claims satisfy Claims joined by Combinator. No claims always matches.
type ForIssuer struct {
	Issuer     string
	Claims     []ClaimRequirement
	Combinator Combinator
}

// AnyOfIssuers allows the request when any entry allows it.
type AnyOfIssuers []ForIssuer

func (Open) requirement()          {}
func (AnyValidToken) requirement() {}
func (ForIssuer) requirement()     {}
func (AnyOfIssuers) requirement()  {}

// ClaimRequirement matches when the named claim, read as a set, contains
// Value.
type ClaimRequirement struct {
	Key   string
	Value string
}

func (c ClaimRequirement) String() string { return c.Key + "=" + c.Value }

// Matches reports whether t satisfies the requirement.
func (c ClaimRequirement) Matches(t *token.JWT) bool {
	return t != nil && t.ContainsClaim(c.Key, c.Value)
}

var ErrInvalidClaimRequirement = errors.New("authz: claim requirement must have the form key=value")

// ParseClaimRequirement parses "key=value". Only the first '=' separates,
// so values may contain '='.
func ParseClaimRequirement(s string) (ClaimRequirement, error) {
	k, v, ok := strings.Cut(s, "=")
	k, v = strings.TrimSpace(k), strings.TrimSpace(v)
	if !ok || k == "" || v == "" {
		return ClaimRequirement{}, fmt.Errorf("%w: %q", ErrInvalidClaimRequirement, s)
	}
	return ClaimRequirement{Key: k, Value: v}, nil
}

// RequireIssuer builds a ForIssuer from "key=value" strings.
func RequireIssuer(issuer string, combinator Combinator, claims ...string) (ForIssuer, error) {
	out := ForIssuer{Issuer: issuer, Combinator: combinator}
	for _, c := range claims {
		req, err := ParseClaimRequirement(c)
		if err != nil {
			return ForIssuer{}, err
		}
		out.Claims = append(out.Claims, req)
	}
	return out, nil
}

// MustRequireIssuer is RequireIssuer for static tables; it panics on a
// malformed claim.
func MustRequireIssuer(issuer string, combinator Combinator, claims ...string) ForIssuer {
	f, err := RequireIssuer(issuer, combinator, claims...)
	if err != nil {
		panic(err)
	}
	return f
}

// Evaluate applies req to tokens. A nil requirement behaves as AnyValidToken.
func Evaluate(req Requirement, tokens *token.ValidatedTokens) Decision {
	switch r := req.(type) {
	case Open:
		return Allow
	case nil, AnyValidToken:
		if tokens.HasValidToken() {
			return Allow
		}
		return MissingToken
	case ForIssuer:
		return evaluateIssuer(r, tokens)
	case AnyOfIssuers:
		return evaluateAny(r, tokens)
	default:
		return InvalidClaim
	}
}

func evaluateIssuer(r ForIssuer, tokens *token.ValidatedTokens) Decision {
	t, ok := tokens.Get(r.Issuer)
	if !ok {
		return MissingToken
	}
	if len(r.Claims) == 0 {
		return Allow
	}
	if r.Combinator == Or {
		for _, c := range r.Claims {
			if c.Matches(t) {
				return Allow
			}
		}
		return InvalidClaim
	}
	for _, c := range r.Claims {
		if !c.Matches(t) {
			return InvalidClaim
		}
	}
	return Allow
}

func evaluateAny(list AnyOfIssuers, tokens *token.ValidatedTokens) Decision {
	allMissing := true
	for _, r := range list {
		switch evaluateIssuer(r, tokens) {
		case Allow:
			return Allow
		case InvalidClaim:
			allMissing = false
		}
	}
	if allMissing {
		return MissingToken
	}
	return InvalidClaim
}
