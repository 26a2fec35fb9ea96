// Package retriever fetches remote documents (discovery metadata, key sets)
// and builds the HTTP clients used for outbound token endpoint calls.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 5 * time.Second
	// DefaultSizeLimit caps fetched documents at 50 KiB.
	DefaultSizeLimit int64 = 50 * 1024
)

var (
	ErrResponseTooLarge = errors.New("retriever: response exceeds size limit")
	ErrUnexpectedStatus = errors.New("retriever: unexpected status")
)

// Config describes how remote resources are fetched.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	SizeLimit      int64
	// ProxyURL routes requests through an explicit HTTP proxy when set.
	ProxyURL string
	// NoProxy lists substrings; a target URL containing any of them bypasses
	// the proxy.
	NoProxy []string
	// UsePlaintextForHTTPS rewrites https URLs to http on port 443.
	UsePlaintextForHTTPS bool
	// Transport overrides the base transport (tests).
	Transport http.RoundTripper
	Logger    logrus.FieldLogger
}

// WithProxy returns a copy of c with the proxy replaced when proxyURL is set.
func (c Config) WithProxy(proxyURL string) Config {
	if strings.TrimSpace(proxyURL) != "" {
		c.ProxyURL = proxyURL
	}
	return c
}

func (c Config) defaulted() Config {
	out := c
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = DefaultConnectTimeout
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = DefaultReadTimeout
	}
	if out.SizeLimit <= 0 {
		out.SizeLimit = DefaultSizeLimit
	}
	if out.Logger == nil {
		out.Logger = logrus.StandardLogger()
	}
	return out
}

// Retriever performs proxy-aware GETs with timeouts and a size limit.
type Retriever struct {
	client    *http.Client
	sizeLimit int64
	log       logrus.FieldLogger
}

// New builds a Retriever from cfg.
func New(cfg Config) (*Retriever, error) {
	cfg = cfg.defaulted()
	client, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Retriever{client: client, sizeLimit: cfg.SizeLimit, log: cfg.Logger}, nil
}

// HTTPClient returns the configured client so other components (JWKS cache,
// token endpoint calls) share proxy and timeout behavior.
func (r *Retriever) HTTPClient() *http.Client { return r.client }

// Fetch GETs rawURL and returns the body. Non-2xx responses and bodies larger
// than the size limit are errors.
func (r *Retriever) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("retriever: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retriever: fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.sizeLimit+1))
	if err != nil {
		return nil, fmt.Errorf("retriever: read %s: %w", rawURL, err)
	}
	if int64(len(body)) > r.sizeLimit {
		return nil, fmt.Errorf("%w: %s (limit %d bytes)", ErrResponseTooLarge, rawURL, r.sizeLimit)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned %s", ErrUnexpectedStatus, rawURL, resp.Status)
	}
	r.log.WithField("url", rawURL).Debug("fetched remote resource")
	return body, nil
}

func newHTTPClient(cfg Config) (*http.Client, error) {
	base := cfg.Transport
	if base == nil {
		proxy, err := proxyFunc(cfg.ProxyURL, cfg.NoProxy)
		if err != nil {
			return nil, err
		}
		base = &http.Transport{
			Proxy:                 proxy,
			DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
			TLSHandshakeTimeout:   cfg.ConnectTimeout,
			ResponseHeaderTimeout: cfg.ReadTimeout,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
		}
	}
	rt := base
	if cfg.UsePlaintextForHTTPS {
		rt = plaintextTransport{next: base}
	}
	return &http.Client{
		Transport: rt,
		Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
	}, nil
}

// proxyFunc returns a Proxy function for http.Transport. With no proxy
// configured every request goes direct.
func proxyFunc(proxyURL string, noProxy []string) (func(*http.Request) (*url.URL, error), error) {
	if strings.TrimSpace(proxyURL) == "" {
		return nil, nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("retriever: invalid proxy url %q: %w", proxyURL, err)
	}
	return func(req *http.Request) (*url.URL, error) {
		if BypassProxy(req.URL.String(), noProxy) {
			return nil, nil
		}
		return u, nil
	}, nil
}

// BypassProxy reports whether target matches any NO_PROXY entry by substring.
func BypassProxy(target string, noProxy []string) bool {
	for _, entry := range noProxy {
		entry = strings.TrimSpace(entry)
		if entry != "" && strings.Contains(target, entry) {
			return true
		}
	}
	return false
}

// ParseNoProxy splits a NO_PROXY style comma list.
func ParseNoProxy(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type plaintextTransport struct {
	next http.RoundTripper
}

func (t plaintextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.next.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.URL.Scheme = "http"
	r.URL.Host = net.JoinHostPort(req.URL.Hostname(), "443")
	return t.next.RoundTrip(r)
}
