package oauth2client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwtkit "github.com/navikt/token-support-sub000/jwt"
	"github.com/navikt/token-support-sub000/retriever"
	tokentest "github.com/navikt/token-support-sub000/testing"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func secretBasic(t *testing.T) ClientAuth {
	t.Helper()
	a, err := NewClientSecretBasic("client-id", "s3cr3t")
	require.NoError(t, err)
	return a
}

func registration(ti *tokentest.TestIssuer, grant GrantType, auth ClientAuth) ClientRegistration {
	return ClientRegistration{
		TokenEndpointURL: ti.TokenEndpoint(),
		GrantType:        grant,
		Scopes:           []string{"scope1", "scope2"},
		Auth:             auth,
	}
}

func TestClientCredentials_SecretBasic(t *testing.T) {
	ti := tokentest.NewTestIssuer()
	defer ti.Close()
	cl := NewClientCredentialsClient(WithLogger(quietLogger()))

	resp, err := cl.GetToken(context.Background(), ClientCredentialsRequest{Reg: registration(ti, GrantClientCredentials, secretBasic(t))})
	require.NoError(t, err)
	assert.Equal(t, "access-token-1", resp.AccessToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)

	reqs := ti.TokenRequests()
	require.Len(t, reqs, 1)
	r := reqs[0]
	assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
	assert.Equal(t, "scope1 scope2", r.Form.Get("scope"))
	assert.Equal(t, "application/json", r.Accept)
	assert.Equal(t, "application/x-www-form-urlencoded", r.ContentType)
	assert.Empty(t, r.Form.Get("client_secret"))

	require.True(t, strings.HasPrefix(r.Authorization, "Basic "))
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(r.Authorization, "Basic "))
	require.NoError(t, err)
	assert.Equal(t, "client-id:s3cr3t", string(decoded))
}

func TestClientCredentials_SecretPost(t *testing.T) {
	ti := tokentest.NewTestIssuer()
	defer ti.Close()
	auth, err := NewClientSecretPost("client-id", "s3cr3t")
	require.NoError(t, err)

	_, err = NewClientCredentialsClient(WithLogger(quietLogger())).GetToken(context.Background(),
		ClientCredentialsRequest{Reg: registration(ti, GrantClientCredentials, auth)})
	require.NoError(t, err)

	r := ti.TokenRequests()[0]
	assert.Equal(t, "client-id", r.Form.Get("client_id"))
	assert.Equal(t, "s3cr3t", r.Form.Get("client_secret"))
	assert.Empty(t, r.Authorization)
}

func TestPrivateKeyJWT_FreshAssertionPerCall(t *testing.T) {
	ti := tokentest.NewTestIssuer()
	defer ti.Close()
	key, err := jwtkit.NewRSASigner(2048, "client-key")
	require.NoError(t, err)
	auth, err := NewPrivateKeyJWT("client-id", key)
	require.NoError(t, err)
	cl := NewClientCredentialsClient(WithLogger(quietLogger()))
	req := ClientCredentialsRequest{Reg: registration(ti, GrantClientCredentials, auth)}

	for i := 0; i < 2; i++ {
		_, err := cl.GetToken(context.Background(), req)
		require.NoError(t, err)
	}

	reqs := ti.TokenRequests()
	require.Len(t, reqs, 2)
	first, second := reqs[0].Form.Get("client_assertion"), reqs[1].Form.Get("client_assertion")
	assert.NotEqual(t, first, second)

	for _, r := range reqs {
		assert.Equal(t, ClientAssertionType, r.Form.Get("client_assertion_type"))
		assert.Equal(t, "client-id", r.Form.Get("client_id"))

		claims := jwt.MapClaims{}
		parsed, err := jwt.ParseWithClaims(r.Form.Get("client_assertion"), claims,
			func(*jwt.Token) (any, error) { return key.PublicKey(), nil },
			jwt.WithValidMethods([]string{"RS256"}))
		require.NoError(t, err)
		assert.Equal(t, "client-key", parsed.Header["kid"])
		assert.Equal(t, "client-id", claims["iss"])
		assert.Equal(t, "client-id", claims["sub"])
		assert.Equal(t, ti.TokenEndpoint(), claims["aud"])
		assert.NotEmpty(t, claims["jti"])
	}
}

func TestOnBehalfOf_Form(t *testing.T) {
	ti := tokentest.NewTestIssuer()
	defer ti.Close()

	_, err := NewOnBehalfOfClient(WithLogger(quietLogger())).GetToken(context.Background(), OnBehalfOfRequest{
		Reg:       registration(ti, GrantJWTBearer, secretBasic(t)),
		Assertion: "inbound.jwt.token",
	})
	require.NoError(t, err)

	f := ti.TokenRequests()[0].Form
	assert.Equal(t, string(GrantJWTBearer), f.Get("grant_type"))
	assert.Equal(t, "inbound.jwt.token", f.Get("assertion"))
	assert.Equal(t, "on_behalf_of", f.Get("requested_token_use"))
	assert.Equal(t, "scope1 scope2", f.Get("scope"))
}

func TestTokenExchange_Form(t *testing.T) {
	ti := tokentest.NewTestIssuer()
	defer ti.Close()
	cl := NewTokenExchangeClient(WithLogger(quietLogger()))

	reg := registration(ti, GrantTokenExchange, secretBasic(t))
	reg.TokenExchange = &TokenExchangeParams{Audience: "cluster:ns:app", Resource: "  "}
	_, err := cl.GetToken(context.Background(), TokenExchangeRequest{Reg: reg, SubjectToken: "subject.jwt"})
	require.NoError(t, err)

	reg.TokenExchange.Resource = "https://resource.example"
	_, err = cl.GetToken(context.Background(), TokenExchangeRequest{Reg: reg, SubjectToken: "subject.jwt"})
	require.NoError(t, err)

	reqs := ti.TokenRequests()
	f := reqs[0].Form
	assert.Equal(t, string(GrantTokenExchange), f.Get("grant_type"))
	assert.Equal(t, "subject.jwt", f.Get("subject_token"))
	assert.Equal(t, SubjectTokenTypeJWT, f.Get("subject_token_type"))
	assert.Equal(t, "cluster:ns:app", f.Get("audience"))
	assert.False(t, f.Has("resource"))
	assert.False(t, f.Has("scope"))
	assert.Equal(t, "https://resource.example", reqs[1].Form.Get("resource"))
}

func TestTokenExchange_RequiresAudience(t *testing.T) {
	ti := tokentest.NewTestIssuer()
	defer ti.Close()

	_, err := NewTokenExchangeClient().GetToken(context.Background(), TokenExchangeRequest{
		Reg:          registration(ti, GrantTokenExchange, secretBasic(t)),
		SubjectToken: "subject.jwt",
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, 0, ti.TokenRequestCount())
}

func TestGetToken_ErrorStatus(t *testing.T) {
	ti := tokentest.NewTestIssuer()
	defer ti.Close()
	ti.SetTokenResponse(http.StatusBadRequest, map[string]any{
		"error":             "invalid_grant",
		"error_description": "assertion expired",
	})

	_, err := NewClientCredentialsClient(WithLogger(quietLogger())).GetToken(context.Background(),
		ClientCredentialsRequest{Reg: registration(ti, GrantClientCredentials, secretBasic(t))})
	var ce *ClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ti.TokenEndpoint(), ce.Endpoint)
	assert.Equal(t, http.StatusBadRequest, ce.StatusCode)
	assert.Equal(t, "invalid_grant", ce.OAuthError)
	assert.Equal(t, "assertion expired", ce.OAuthDescription)
	assert.Contains(t, ce.Body, "invalid_grant")
	assert.Equal(t, 1, ti.TokenRequestCount(), "no retry")
}

func TestGetToken_TransportError(t *testing.T) {
	ti := tokentest.NewTestIssuer()
	endpoint := ti.TokenEndpoint()
	ti.Close()

	reg := ClientRegistration{TokenEndpointURL: endpoint, GrantType: GrantClientCredentials, Auth: secretBasic(t)}
	_, err := NewClientCredentialsClient(WithLogger(quietLogger())).GetToken(context.Background(), ClientCredentialsRequest{Reg: reg})
	var ce *ClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, endpoint, ce.Endpoint)
	assert.Zero(t, ce.StatusCode)
	assert.Error(t, ce.Err)
}

func TestGetToken_WrongRequestType(t *testing.T) {
	_, err := NewClientCredentialsClient().GetToken(context.Background(), OnBehalfOfRequest{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNewClientAuth_Invariants(t *testing.T) {
	key, err := jwtkit.NewRSASigner(2048, "k")
	require.NoError(t, err)

	_, err = NewClientAuth("id", ClientSecretBasic, "", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewClientAuth("id", ClientSecretPost, "", key)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewClientAuth("id", PrivateKeyJWT, "secret", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewClientAuth("", ClientSecretBasic, "secret", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewClientAuth("id", AuthMethod("tls_client_auth"), "secret", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	a, err := NewClientAuth("id", PrivateKeyJWT, "", key)
	require.NoError(t, err)
	assert.Equal(t, PrivateKeyJWT, a.Method())
	assert.NotContains(t, secretBasic(t).String(), "s3cr3t")
}

func TestSecretBasic_RejectsUnencodableCredentials(t *testing.T) {
	auth, err := NewClientSecretBasic("client-id", "bad\xff")
	require.NoError(t, err)
	err = auth.apply(context.Background(), "https://idp/token", map[string][]string{}, http.Header{}, time.Now())
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSecretBasic_SendsCredentialsUnescaped(t *testing.T) {
	auth, err := NewClientSecretBasic("client-id", "a+b/c==")
	require.NoError(t, err)
	header := http.Header{}
	require.NoError(t, auth.apply(context.Background(), "https://idp/token", map[string][]string{}, header, time.Now()))

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header.Get("Authorization"), "Basic "))
	require.NoError(t, err)
	assert.Equal(t, "client-id:a+b/c==", string(decoded))
}

func TestGrantRequestKeys(t *testing.T) {
	reg := ClientRegistration{TokenEndpointURL: "https://idp/token", GrantType: GrantJWTBearer, Auth: secretBasic(t), Scopes: []string{"b", "a"}}
	same := reg
	same.Scopes = []string{"a", "b"}

	assert.Equal(t, OnBehalfOfRequest{Reg: reg, Assertion: "x"}.Key(), OnBehalfOfRequest{Reg: same, Assertion: "x"}.Key())
	assert.NotEqual(t, OnBehalfOfRequest{Reg: reg, Assertion: "x"}.Key(), OnBehalfOfRequest{Reg: reg, Assertion: "y"}.Key())

	otherSecret, err := NewClientSecretBasic("client-id", "rotated")
	require.NoError(t, err)
	rotated := reg
	rotated.Auth = otherSecret
	assert.NotEqual(t, OnBehalfOfRequest{Reg: reg, Assertion: "x"}.Key(), OnBehalfOfRequest{Reg: rotated, Assertion: "x"}.Key())

	assert.NotContains(t, OnBehalfOfRequest{Reg: reg, Assertion: "secret-token"}.String(), "secret-token")
}

func TestAccessTokenResponse_JSON(t *testing.T) {
	var resp AccessTokenResponse
	require.NoError(t, json.Unmarshal([]byte(`{"access_token":"abc","expires_in":"3599","expires_at":1700000000,"token_type":"Bearer","ext_expires_in":3599}`), &resp))
	assert.Equal(t, "abc", resp.AccessToken)
	assert.Equal(t, int64(3599), resp.ExpiresIn)
	assert.Equal(t, int64(1700000000), resp.ExpiresAt)
	assert.Equal(t, "Bearer", resp.TokenType())
	assert.Contains(t, resp.Extra, "ext_expires_in")
	assert.Equal(t, 3599*time.Second, resp.Lifetime(time.Now()))

	out, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"access_token":"abc","expires_in":3599,"expires_at":1700000000,"token_type":"Bearer","ext_expires_in":3599}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"access_token":1}`), &resp))
	assert.Error(t, json.Unmarshal([]byte(`[]`), &resp))
}

func TestResolveTokenEndpoint(t *testing.T) {
	ti := tokentest.NewTestIssuer()
	defer ti.Close()
	ret, err := retriever.New(retriever.Config{Logger: quietLogger()})
	require.NoError(t, err)

	reg, err := ResolveTokenEndpoint(context.Background(), ret, ClientRegistration{WellKnownURL: ti.DiscoveryURL()})
	require.NoError(t, err)
	assert.Equal(t, ti.TokenEndpoint(), reg.TokenEndpointURL)

	explicit, err := ResolveTokenEndpoint(context.Background(), ret, ClientRegistration{TokenEndpointURL: "https://fixed/token", WellKnownURL: "http://unused"})
	require.NoError(t, err)
	assert.Equal(t, "https://fixed/token", explicit.TokenEndpointURL)

	_, err = ResolveTokenEndpoint(context.Background(), ret, ClientRegistration{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
