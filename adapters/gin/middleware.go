package authgin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/navikt/token-support-sub000/authz"
	"github.com/navikt/token-support-sub000/token"
	"github.com/navikt/token-support-sub000/validation"
)

const tokensKey = "tokensupport.tokens"

type requestView struct{ c *gin.Context }

// Request adapts a gin context to validation.Request.
func Request(c *gin.Context) validation.Request { return requestView{c: c} }

func (r requestView) Header(name string) string { return r.c.GetHeader(name) }

func (r requestView) Cookies() []validation.Cookie {
	cs := r.c.Request.Cookies()
	out := make([]validation.Cookie, 0, len(cs))
	for _, ck := range cs {
		out = append(out, validation.Cookie{Name: ck.Name, Value: ck.Value})
	}
	return out
}

// ValidateTokens validates inbound tokens and stores the result on both the
// gin context and the request context. It never rejects a request.
func ValidateTokens(h *validation.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokens := h.GetValidatedTokens(c.Request.Context(), Request(c))
		c.Set(tokensKey, tokens)
		c.Request = c.Request.WithContext(token.WithValidatedTokens(c.Request.Context(), tokens))
		c.Next()
	}
}

// Require aborts with 401 when a required token is missing and 403 when a
// token is present but its claims do not satisfy req.
func Require(req authz.Requirement) gin.HandlerFunc {
	return func(c *gin.Context) {
		abortOnDecision(c, authz.Evaluate(req, TokensFromGin(c)))
	}
}

// Protect evaluates the policy entry for "METHOD /route/pattern".
func Protect(p *authz.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		abortOnDecision(c, p.Evaluate(c.Request.Method+" "+c.FullPath(), TokensFromGin(c)))
	}
}

func abortOnDecision(c *gin.Context, d authz.Decision) {
	switch d {
	case authz.Allow:
		c.Next()
	case authz.MissingToken:
		c.AbortWithStatus(http.StatusUnauthorized)
	default:
		c.AbortWithStatus(http.StatusForbidden)
	}
}

// TokenExpiry sets validation.TokenExpiryHeader when a validated token
// expires within threshold.
func TokenExpiry(threshold time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if exp, ok := validation.ExpiringSoon(TokensFromGin(c), threshold, time.Now()); ok {
			c.Header(validation.TokenExpiryHeader, validation.ExpiryHeaderValue(exp))
		}
		c.Next()
	}
}
