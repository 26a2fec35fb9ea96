// Package oauth2client acquires outbound OAuth2 access tokens using the
// client_credentials, on-behalf-of (jwt-bearer) and token-exchange grants,
// with per-grant caching of responses.
package oauth2client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	jwtkit "github.com/navikt/token-support-sub000/jwt"
	oidckit "github.com/navikt/token-support-sub000/oidc"
)

// GrantType identifies the OAuth2 grant used by a registration.
type GrantType string

const (
	GrantClientCredentials GrantType = "client_credentials"
	GrantJWTBearer         GrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	GrantTokenExchange     GrantType = "urn:ietf:params:oauth:grant-type:token-exchange"
)

// Label is a short name used in logs and metrics.
func (g GrantType) Label() string {
	switch g {
	case GrantClientCredentials:
		return "client_credentials"
	case GrantJWTBearer:
		return "on_behalf_of"
	case GrantTokenExchange:
		return "token_exchange"
	default:
		return string(g)
	}
}

// AuthMethod is the token endpoint client authentication method.
type AuthMethod string

const (
	ClientSecretBasic AuthMethod = "client_secret_basic"
	ClientSecretPost  AuthMethod = "client_secret_post"
	PrivateKeyJWT     AuthMethod = "private_key_jwt"
)

const redacted = "[REDACTED]"

// ClientAuth holds the credentials used to authenticate to a token endpoint.
// Build it with NewClientAuth or one of the method specific constructors so
// the secret or key required by the method is always present.
type ClientAuth struct {
	clientID string
	method   AuthMethod
	secret   string
	key      *jwtkit.RSASigner
}

// NewClientAuth validates that method has the credential it needs.
func NewClientAuth(clientID string, method AuthMethod, secret string, key *jwtkit.RSASigner) (ClientAuth, error) {
	if strings.TrimSpace(clientID) == "" {
		return ClientAuth{}, fmt.Errorf("%w: client id is required", ErrInvalidArgument)
	}
	switch method {
	case ClientSecretBasic, ClientSecretPost:
		if secret == "" {
			return ClientAuth{}, fmt.Errorf("%w: %s requires a client secret", ErrInvalidArgument, method)
		}
		return ClientAuth{clientID: clientID, method: method, secret: secret}, nil
	case PrivateKeyJWT:
		if key == nil {
			return ClientAuth{}, fmt.Errorf("%w: %s requires a signing key", ErrInvalidArgument, method)
		}
		return ClientAuth{clientID: clientID, method: method, key: key}, nil
	default:
		return ClientAuth{}, fmt.Errorf("%w: unsupported client auth method %q", ErrInvalidArgument, method)
	}
}

func NewClientSecretBasic(clientID, secret string) (ClientAuth, error) {
	return NewClientAuth(clientID, ClientSecretBasic, secret, nil)
}

func NewClientSecretPost(clientID, secret string) (ClientAuth, error) {
	return NewClientAuth(clientID, ClientSecretPost, secret, nil)
}

func NewPrivateKeyJWT(clientID string, key *jwtkit.RSASigner) (ClientAuth, error) {
	return NewClientAuth(clientID, PrivateKeyJWT, "", key)
}

func (a ClientAuth) ClientID() string   { return a.clientID }
func (a ClientAuth) Method() AuthMethod { return a.method }

func (a ClientAuth) String() string {
	return fmt.Sprintf("ClientAuth{ClientID: %s, Method: %s, Credential: %s}", a.clientID, a.method, redacted)
}

// fingerprint identifies the credential without exposing it.
func (a ClientAuth) fingerprint() string {
	switch a.method {
	case PrivateKeyJWT:
		if a.key == nil {
			return ""
		}
		sum := sha256.Sum256(a.key.PublicKey().N.Bytes())
		return a.key.KID() + ":" + hex.EncodeToString(sum[:8])
	default:
		sum := sha256.Sum256([]byte(a.secret))
		return hex.EncodeToString(sum[:8])
	}
}

// TokenExchangeParams are the token-exchange specific fields of a
// registration.
type TokenExchangeParams struct {
	Audience string
	// Resource is sent only when not blank.
	Resource string
}

// ClientRegistration describes how to obtain tokens for one downstream
// client.
type ClientRegistration struct {
	// TokenEndpointURL is used as is. When empty it is resolved from
	// WellKnownURL by ResolveTokenEndpoint.
	TokenEndpointURL string
	WellKnownURL     string
	GrantType        GrantType
	Scopes           []string
	Auth             ClientAuth
	TokenExchange    *TokenExchangeParams
}

// Validate checks the fields every grant needs.
func (r ClientRegistration) Validate() error {
	if strings.TrimSpace(r.TokenEndpointURL) == "" {
		return fmt.Errorf("%w: token endpoint url is required", ErrInvalidArgument)
	}
	if r.Auth.clientID == "" {
		return fmt.Errorf("%w: client auth is required", ErrInvalidArgument)
	}
	switch r.GrantType {
	case GrantClientCredentials, GrantJWTBearer:
	case GrantTokenExchange:
		if r.TokenExchange == nil || strings.TrimSpace(r.TokenExchange.Audience) == "" {
			return fmt.Errorf("%w: token exchange requires an audience", ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: unsupported grant type %q", ErrInvalidArgument, r.GrantType)
	}
	return nil
}

// ResolveTokenEndpoint returns r with TokenEndpointURL filled from the
// metadata at WellKnownURL when it is not set.
func ResolveTokenEndpoint(ctx context.Context, f oidckit.Fetcher, r ClientRegistration) (ClientRegistration, error) {
	if strings.TrimSpace(r.TokenEndpointURL) != "" {
		return r, nil
	}
	if strings.TrimSpace(r.WellKnownURL) == "" {
		return r, fmt.Errorf("%w: either token endpoint url or well-known url is required", ErrInvalidArgument)
	}
	endpoint, err := oidckit.DiscoverTokenEndpoint(ctx, f, r.WellKnownURL)
	if err != nil {
		return r, err
	}
	r.TokenEndpointURL = endpoint
	return r, nil
}

// cacheKey is a structural digest of the registration.
func (r ClientRegistration) cacheKey() []string {
	scopes := append([]string(nil), r.Scopes...)
	sort.Strings(scopes)
	parts := []string{
		string(r.GrantType),
		r.TokenEndpointURL,
		r.Auth.clientID,
		string(r.Auth.method),
		r.Auth.fingerprint(),
		strings.Join(scopes, " "),
	}
	if r.TokenExchange != nil {
		parts = append(parts, r.TokenExchange.Audience, r.TokenExchange.Resource)
	}
	return parts
}

// GrantRequest is one of ClientCredentialsRequest, OnBehalfOfRequest or
// TokenExchangeRequest. Key is the cache key: equal for requests with the
// same registration and subject, different otherwise.
type GrantRequest interface {
	Registration() ClientRegistration
	Key() string
}

type ClientCredentialsRequest struct {
	Reg ClientRegistration
}

type OnBehalfOfRequest struct {
	Reg       ClientRegistration
	Assertion string
}

type TokenExchangeRequest struct {
	Reg          ClientRegistration
	SubjectToken string
}

func (r ClientCredentialsRequest) Registration() ClientRegistration { return r.Reg }
func (r OnBehalfOfRequest) Registration() ClientRegistration        { return r.Reg }
func (r TokenExchangeRequest) Registration() ClientRegistration     { return r.Reg }

func (r ClientCredentialsRequest) Key() string { return digest(r.Reg.cacheKey()) }
func (r OnBehalfOfRequest) Key() string {
	return digest(append(r.Reg.cacheKey(), "assertion", r.Assertion))
}
func (r TokenExchangeRequest) Key() string {
	return digest(append(r.Reg.cacheKey(), "subject_token", r.SubjectToken))
}

func (r OnBehalfOfRequest) String() string {
	return fmt.Sprintf("OnBehalfOfRequest{ClientID: %s, Assertion: %s}", r.Reg.Auth.clientID, redacted)
}

func (r TokenExchangeRequest) String() string {
	return fmt.Sprintf("TokenExchangeRequest{ClientID: %s, SubjectToken: %s}", r.Reg.Auth.clientID, redacted)
}

func digest(parts []string) string {
	h := sha256.New()
	for _, p := range parts {
		// length prefix keeps ("ab","c") and ("a","bc") apart
		fmt.Fprintf(h, "%d:%s;", len(p), p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// AccessTokenResponse is a token endpoint response. Fields other than
// access_token, expires_in and expires_at are kept in Extra untouched.
type AccessTokenResponse struct {
	AccessToken string
	ExpiresIn   int64
	ExpiresAt   int64
	Extra       map[string]any
}

// TokenType returns the token_type field, defaulting to Bearer.
func (r *AccessTokenResponse) TokenType() string {
	if s, ok := r.Extra["token_type"].(string); ok && s != "" {
		return s
	}
	return "Bearer"
}

// Lifetime returns the token lifetime from expires_in, falling back to
// expires_at relative to now.
func (r *AccessTokenResponse) Lifetime(now time.Time) time.Duration {
	if r.ExpiresIn > 0 {
		return time.Duration(r.ExpiresIn) * time.Second
	}
	if r.ExpiresAt > 0 {
		return time.Unix(r.ExpiresAt, 0).Sub(now)
	}
	return 0
}

// stampExpiresAt fills ExpiresAt from expires_in relative to the fetch time,
// so cached copies keep their absolute expiry.
func (r *AccessTokenResponse) stampExpiresAt(fetchedAt time.Time) {
	if r.ExpiresAt == 0 && r.ExpiresIn > 0 {
		r.ExpiresAt = fetchedAt.Add(time.Duration(r.ExpiresIn) * time.Second).Unix()
	}
}

func (r AccessTokenResponse) String() string {
	return fmt.Sprintf("AccessTokenResponse{AccessToken: %s, ExpiresIn: %d}", redacted, r.ExpiresIn)
}

func (r AccessTokenResponse) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+3)
	for k, v := range r.Extra {
		out[k] = v
	}
	out["access_token"] = r.AccessToken
	if r.ExpiresIn != 0 {
		out["expires_in"] = r.ExpiresIn
	}
	if r.ExpiresAt != 0 {
		out["expires_at"] = r.ExpiresAt
	}
	return json.Marshal(out)
}

func (r *AccessTokenResponse) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		return errors.New("access token response is not a JSON object")
	}
	var resp AccessTokenResponse
	var err error
	if v, ok := raw["access_token"]; ok {
		s, isString := v.(string)
		if !isString {
			return errors.New("access_token is not a string")
		}
		resp.AccessToken = s
		delete(raw, "access_token")
	}
	if resp.ExpiresIn, err = popInt(raw, "expires_in"); err != nil {
		return err
	}
	if resp.ExpiresAt, err = popInt(raw, "expires_at"); err != nil {
		return err
	}
	if len(raw) > 0 {
		resp.Extra = raw
	}
	*r = resp
	return nil
}

// popInt removes key from m and reads it as an integer. Some servers send
// numbers as strings.
func popInt(m map[string]any, key string) (int64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		delete(m, key)
		return 0, nil
	}
	delete(m, key)
	var n json.Number
	switch x := v.(type) {
	case json.Number:
		n = x
	case string:
		n = json.Number(strings.TrimSpace(x))
	default:
		return 0, fmt.Errorf("%s has unexpected type %T", key, v)
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("%s is not a number: %w", key, err)
	}
	return int64(f), nil
}
