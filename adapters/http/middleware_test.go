package authhttp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navikt/token-support-sub000/authz"
	"github.com/navikt/token-support-sub000/core"
	jwtkit "github.com/navikt/token-support-sub000/jwt"
	tokentest "github.com/navikt/token-support-sub000/testing"
	"github.com/navikt/token-support-sub000/token"
	"github.com/navikt/token-support-sub000/validation"
)

func newChain(t *testing.T, ti *tokentest.TestIssuer, req authz.Requirement) http.Handler {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	reg, err := validation.NewRegistry(context.Background(), map[string]core.IssuerTrustConfig{
		"idp": {DiscoveryURL: ti.DiscoveryURL(), AcceptedAudiences: []string{ti.Audience()}},
	}, validation.WithLogger(log))
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens, _ := token.FromContext(r.Context())
		tok, ok := tokens.Get("idp")
		if !ok {
			_, _ = io.WriteString(w, "anonymous")
			return
		}
		_, _ = io.WriteString(w, tok.Subject())
	})
	return ValidateTokens(validation.NewHandler(reg))(Require(req)(final))
}

func get(h http.Handler, bearer string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if bearer != "" {
		r.Header.Set("Authorization", "Bearer "+bearer)
	}
	h.ServeHTTP(w, r)
	return w
}

func TestRequire(t *testing.T) {
	ti := tokentest.NewTestIssuer()
	defer ti.Close()
	h := newChain(t, ti, authz.MustRequireIssuer("idp", authz.And, "acr=Level4"))

	assert.Equal(t, http.StatusUnauthorized, get(h, "").Code)
	assert.Equal(t, http.StatusForbidden, get(h, ti.CreateToken("u", map[string]any{"acr": "Level3"})).Code)

	w := get(h, ti.CreateToken("u", map[string]any{"acr": "Level4"}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u", w.Body.String())
}

func TestRequire_Open(t *testing.T) {
	ti := tokentest.NewTestIssuer()
	defer ti.Close()
	h := newChain(t, ti, authz.Open{})

	w := get(h, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "anonymous", w.Body.String())
}

func TestJWKSHandler(t *testing.T) {
	signer, err := jwtkit.NewRSASigner(2048, "client-key")
	require.NoError(t, err)

	srv := httptest.NewServer(JWKSHandler(signer))
	defer srv.Close()

	set, err := jwk.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	key, ok := set.LookupKeyID("client-key")
	require.True(t, ok)
	assert.Equal(t, "RS256", key.Algorithm().String())

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	var doc jwtkit.JWKS
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	require.Len(t, doc.Keys, 1)
	assert.Equal(t, "sig", doc.Keys[0].Use)
}
