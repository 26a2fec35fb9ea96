package authgin

import (
	"github.com/gin-gonic/gin"

	"github.com/navikt/token-support-sub000/token"
)

// TokensFromGin returns the tokens stored by ValidateTokens, falling back to
// the request context. The result is never nil.
func TokensFromGin(c *gin.Context) *token.ValidatedTokens {
	if v, ok := c.Get(tokensKey); ok {
		if t, ok := v.(*token.ValidatedTokens); ok {
			return t
		}
	}
	if t, ok := token.FromContext(c.Request.Context()); ok {
		return t
	}
	return token.NewValidatedTokens()
}

// CurrentSubject returns the sub claim of the caller's token.
// Order of precedence:
//  1. The token from issuer, when issuer is non-empty
//  2. The first validated token
func CurrentSubject(c *gin.Context, issuer string) (string, bool) {
	tokens := TokensFromGin(c)
	var (
		t  *token.JWT
		ok bool
	)
	if issuer != "" {
		t, ok = tokens.Get(issuer)
	} else {
		t, ok = tokens.FirstValidToken()
	}
	if !ok || t.Subject() == "" {
		return "", false
	}
	return t.Subject(), true
}
