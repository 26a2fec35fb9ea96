// Package testing provides a mock authorization server for tests of code that
// validates inbound tokens or acquires outbound access tokens.
//
// Example usage:
//
//	issuer := testing.NewTestIssuer()
//	defer issuer.Close()
//
//	trust := map[string]core.IssuerTrustConfig{
//		"idp": {DiscoveryURL: issuer.DiscoveryURL(), AcceptedAudiences: []string{issuer.Audience()}},
//	}
//
//	// Create tokens for testing
//	token := issuer.CreateToken("user-123", nil)
package testing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	jwtkit "github.com/navikt/token-support-sub000/jwt"
)

const (
	DiscoveryPath = "/.well-known/openid-configuration"
	JWKSPath      = "/.well-known/jwks.json"
	TokenPath     = "/token"
)

// TokenRequest is a request received by the mock token endpoint.
type TokenRequest struct {
	Form          url.Values
	Authorization string
	ContentType   string
	Accept        string
}

// TestIssuer runs an HTTP server that publishes discovery metadata and a
// JWKS, signs tokens that validate against it, and answers token requests.
type TestIssuer struct {
	server   *httptest.Server
	signer   *jwtkit.RSASigner
	audience string

	jwksHits  atomic.Int64
	tokenHits atomic.Int64

	mu          sync.Mutex
	requests    []TokenRequest
	status      int
	response    map[string]any
	tokenDelay  time.Duration
	accessCount int
}

// Option customizes a TestIssuer.
type Option func(*TestIssuer)

// WithAudience sets the aud claim put on created tokens.
func WithAudience(aud string) Option {
	return func(ti *TestIssuer) { ti.audience = aud }
}

// WithSigner replaces the generated signing key.
func WithSigner(s *jwtkit.RSASigner) Option {
	return func(ti *TestIssuer) { ti.signer = s }
}

// NewTestIssuer creates a new test issuer with a fresh 2048 bit RSA key.
// Call Close() when done to shut down the test server.
func NewTestIssuer(opts ...Option) *TestIssuer {
	ti := &TestIssuer{audience: "test-app", status: http.StatusOK}
	for _, o := range opts {
		o(ti)
	}
	if ti.signer == nil {
		signer, err := jwtkit.NewRSASigner(2048, "test-key-1")
		if err != nil {
			panic("failed to create RSA signer: " + err.Error())
		}
		ti.signer = signer
	}

	mux := http.NewServeMux()
	mux.HandleFunc(DiscoveryPath, ti.handleDiscovery)
	mux.HandleFunc(JWKSPath, ti.handleJWKS)
	mux.HandleFunc(TokenPath, ti.handleToken)

	ti.server = httptest.NewServer(mux)
	return ti
}

// URL returns the base URL of the server, which is also the iss value.
func (ti *TestIssuer) URL() string { return ti.server.URL }

func (ti *TestIssuer) DiscoveryURL() string { return ti.server.URL + DiscoveryPath }
func (ti *TestIssuer) JWKSURL() string      { return ti.server.URL + JWKSPath }
func (ti *TestIssuer) TokenEndpoint() string {
	return ti.server.URL + TokenPath
}

// Audience returns the audience configured for this test issuer.
func (ti *TestIssuer) Audience() string { return ti.audience }

// Signer exposes the signing key.
func (ti *TestIssuer) Signer() *jwtkit.RSASigner {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.signer
}

// RotateSigner replaces the signing key. The JWKS endpoint publishes only the
// new key from then on.
func (ti *TestIssuer) RotateSigner(s *jwtkit.RSASigner) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.signer = s
}

// Close shuts down the test server.
func (ti *TestIssuer) Close() {
	if ti.server != nil {
		ti.server.Close()
	}
}

// JWKSRequests reports how many times the key set was fetched.
func (ti *TestIssuer) JWKSRequests() int { return int(ti.jwksHits.Load()) }

// TokenRequestCount reports how many token requests were received.
func (ti *TestIssuer) TokenRequestCount() int { return int(ti.tokenHits.Load()) }

// TokenRequests returns a copy of the received token requests.
func (ti *TestIssuer) TokenRequests() []TokenRequest {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	out := make([]TokenRequest, len(ti.requests))
	copy(out, ti.requests)
	return out
}

// SetTokenResponse makes the token endpoint answer with status and body.
// A nil body restores the default response.
func (ti *TestIssuer) SetTokenResponse(status int, body map[string]any) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.status = status
	ti.response = body
}

// SetTokenDelay makes the token endpoint sleep before answering.
func (ti *TestIssuer) SetTokenDelay(d time.Duration) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.tokenDelay = d
}

func (ti *TestIssuer) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"issuer":                 ti.URL(),
		"jwks_uri":               ti.JWKSURL(),
		"token_endpoint":         ti.TokenEndpoint(),
		"authorization_endpoint": ti.URL() + "/authorize",
	})
}

func (ti *TestIssuer) handleJWKS(w http.ResponseWriter, r *http.Request) {
	ti.jwksHits.Add(1)
	jwtkit.ServeJWKS(w, r, jwtkit.JWKSFor(ti.Signer()))
}

func (ti *TestIssuer) handleToken(w http.ResponseWriter, r *http.Request) {
	ti.tokenHits.Add(1)
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ti.mu.Lock()
	ti.requests = append(ti.requests, TokenRequest{
		Form:          r.PostForm,
		Authorization: r.Header.Get("Authorization"),
		ContentType:   r.Header.Get("Content-Type"),
		Accept:        r.Header.Get("Accept"),
	})
	status, body, delay := ti.status, ti.response, ti.tokenDelay
	if body == nil {
		ti.accessCount++
		body = map[string]any{
			"access_token": "access-token-" + strconv.Itoa(ti.accessCount),
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
	}
	ti.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// CreateToken creates a signed token for subject with the standard claims
// (iss, aud, exp, iat, sub) merged with extra.
func (ti *TestIssuer) CreateToken(subject string, extra map[string]any) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iss": ti.URL(),
		"aud": ti.audience,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	return ti.Sign(claims)
}

// CreateTokenWithExpiry creates a signed token with a custom expiry time.
func (ti *TestIssuer) CreateTokenWithExpiry(subject string, expiry time.Time) string {
	return ti.CreateToken(subject, map[string]any{"exp": expiry.Unix()})
}

// CreateExpiredToken creates a token that expired an hour ago.
func (ti *TestIssuer) CreateExpiredToken(subject string) string {
	return ti.CreateTokenWithExpiry(subject, time.Now().Add(-time.Hour))
}

// Sign signs claims exactly as given.
func (ti *TestIssuer) Sign(claims jwt.MapClaims) string {
	token, err := ti.Signer().Sign(context.Background(), claims)
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return token
}
