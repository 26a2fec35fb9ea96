package oauth2client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/navikt/token-support-sub000/metrics"
)

const (
	// SubjectTokenTypeJWT is the subject_token_type sent with token exchange.
	SubjectTokenTypeJWT = "urn:ietf:params:oauth:token-type:jwt"

	requestedTokenUseOBO = "on_behalf_of"

	// maxResponseBodySize caps token endpoint responses (1 MiB).
	maxResponseBodySize = 1 << 20
)

// GrantClient performs one grant type against a token endpoint.
type GrantClient interface {
	GetToken(ctx context.Context, req GrantRequest) (*AccessTokenResponse, error)
}

// tokenClient is the request/response skeleton shared by all grant clients.
// Calls are never retried.
type tokenClient struct {
	http    *http.Client
	now     func() time.Time
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

func newTokenClient(opts []Option) tokenClient {
	o := buildOptions(opts)
	return tokenClient{http: o.httpClient, now: o.now, log: o.log, metrics: o.metrics}
}

// post sends form to the registration's token endpoint after adding
// grant_type and client authentication.
func (c tokenClient) post(ctx context.Context, reg ClientRegistration, form url.Values) (*AccessTokenResponse, error) {
	resp, err := c.do(ctx, reg, form)
	c.metrics.ObserveTokenRequest(reg.GrantType.Label(), err)
	return resp, err
}

func (c tokenClient) do(ctx context.Context, reg ClientRegistration, form url.Values) (*AccessTokenResponse, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	endpoint := reg.TokenEndpointURL
	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("Content-Type", "application/x-www-form-urlencoded")

	form.Set("grant_type", string(reg.GrantType))
	if err := reg.Auth.apply(ctx, endpoint, form, header, c.now()); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &ClientError{Endpoint: endpoint, Err: err}
	}
	req.Header = header

	log := c.log.WithFields(logrus.Fields{
		"endpoint":   endpoint,
		"grant_type": reg.GrantType.Label(),
		"client_id":  reg.Auth.ClientID(),
	})
	res, err := c.http.Do(req)
	if err != nil {
		log.WithError(err).Warn("token request failed")
		return nil, &ClientError{Endpoint: endpoint, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBodySize))
	if err != nil {
		return nil, &ClientError{Endpoint: endpoint, StatusCode: res.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		ce := newStatusError(endpoint, res.StatusCode, body)
		log.WithFields(logrus.Fields{"status": res.StatusCode, "error": ce.OAuthError}).Warn("token endpoint returned error")
		return nil, ce
	}

	var out AccessTokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &ClientError{Endpoint: endpoint, StatusCode: res.StatusCode, Body: string(body), Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.AccessToken == "" {
		return nil, &ClientError{Endpoint: endpoint, StatusCode: res.StatusCode, Err: fmt.Errorf("response has no access_token")}
	}
	log.WithField("expires_in", out.ExpiresIn).Debug("received access token")
	return &out, nil
}

func scope(reg ClientRegistration) string { return strings.Join(reg.Scopes, " ") }

// ClientCredentialsClient performs the client_credentials grant.
type ClientCredentialsClient struct{ c tokenClient }

func NewClientCredentialsClient(opts ...Option) *ClientCredentialsClient {
	return &ClientCredentialsClient{c: newTokenClient(opts)}
}

func (cl *ClientCredentialsClient) GetToken(ctx context.Context, req GrantRequest) (*AccessTokenResponse, error) {
	r, ok := req.(ClientCredentialsRequest)
	if !ok {
		return nil, fmt.Errorf("%w: client credentials client got %T", ErrInvalidArgument, req)
	}
	form := url.Values{}
	form.Set("scope", scope(r.Reg))
	return cl.c.post(ctx, r.Reg, form)
}

// OnBehalfOfClient performs the jwt-bearer grant with
// requested_token_use=on_behalf_of.
type OnBehalfOfClient struct{ c tokenClient }

func NewOnBehalfOfClient(opts ...Option) *OnBehalfOfClient {
	return &OnBehalfOfClient{c: newTokenClient(opts)}
}

func (cl *OnBehalfOfClient) GetToken(ctx context.Context, req GrantRequest) (*AccessTokenResponse, error) {
	r, ok := req.(OnBehalfOfRequest)
	if !ok {
		return nil, fmt.Errorf("%w: on-behalf-of client got %T", ErrInvalidArgument, req)
	}
	if r.Assertion == "" {
		return nil, ErrNoSubjectToken
	}
	form := url.Values{}
	form.Set("assertion", r.Assertion)
	form.Set("requested_token_use", requestedTokenUseOBO)
	form.Set("scope", scope(r.Reg))
	return cl.c.post(ctx, r.Reg, form)
}

// TokenExchangeClient performs the RFC 8693 token exchange grant. No scope is
// sent.
type TokenExchangeClient struct{ c tokenClient }

func NewTokenExchangeClient(opts ...Option) *TokenExchangeClient {
	return &TokenExchangeClient{c: newTokenClient(opts)}
}

func (cl *TokenExchangeClient) GetToken(ctx context.Context, req GrantRequest) (*AccessTokenResponse, error) {
	r, ok := req.(TokenExchangeRequest)
	if !ok {
		return nil, fmt.Errorf("%w: token exchange client got %T", ErrInvalidArgument, req)
	}
	if r.SubjectToken == "" {
		return nil, ErrNoSubjectToken
	}
	if err := r.Reg.Validate(); err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("subject_token", r.SubjectToken)
	form.Set("subject_token_type", SubjectTokenTypeJWT)
	form.Set("audience", r.Reg.TokenExchange.Audience)
	if res := strings.TrimSpace(r.Reg.TokenExchange.Resource); res != "" {
		form.Set("resource", res)
	}
	return cl.c.post(ctx, r.Reg, form)
}
