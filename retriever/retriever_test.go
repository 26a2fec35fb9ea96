package retriever

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch_ReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{"issuer":"x"}`))
	}))
	defer srv.Close()

	r, err := New(Config{})
	require.NoError(t, err)
	body, err := r.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.JSONEq(t, `{"issuer":"x"}`, string(body))
}

func TestFetch_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 64)))
	}))
	defer srv.Close()

	r, err := New(Config{SizeLimit: 32})
	require.NoError(t, err)
	_, err = r.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrResponseTooLarge)
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	r, err := New(Config{})
	require.NoError(t, err)
	_, err = r.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestProxyFunc_NoProxyBypass(t *testing.T) {
	proxy, err := proxyFunc("http://proxy.local:8088", []string{"internal.svc", " .local"})
	require.NoError(t, err)

	direct := &http.Request{URL: mustURL(t, "http://issuer.internal.svc/jwks")}
	u, err := proxy(direct)
	require.NoError(t, err)
	assert.Nil(t, u)

	proxied := &http.Request{URL: mustURL(t, "https://login.example.com/jwks")}
	u, err = proxy(proxied)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "proxy.local:8088", u.Host)
}

func TestProxyFunc_NoneConfigured(t *testing.T) {
	proxy, err := proxyFunc("", nil)
	require.NoError(t, err)
	assert.Nil(t, proxy)
}

func TestParseNoProxy(t *testing.T) {
	assert.Equal(t, []string{"a.svc", "b.local"}, ParseNoProxy(" a.svc, ,b.local,"))
	assert.Nil(t, ParseNoProxy(""))
}

type recordingTransport struct {
	seen *url.URL
}

func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.seen = req.URL
	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Body:       http.NoBody,
		Header:     http.Header{},
		Request:    req,
	}, nil
}

func TestPlaintextForHTTPS_RewritesToPort443(t *testing.T) {
	rt := &recordingTransport{}
	r, err := New(Config{UsePlaintextForHTTPS: true, Transport: rt})
	require.NoError(t, err)

	_, err = r.Fetch(context.Background(), "https://login.example.com/.well-known/openid-configuration")
	require.NoError(t, err)
	require.NotNil(t, rt.seen)
	assert.Equal(t, "http", rt.seen.Scheme)
	assert.Equal(t, "login.example.com:443", rt.seen.Host)
	assert.Equal(t, "/.well-known/openid-configuration", rt.seen.Path)
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
