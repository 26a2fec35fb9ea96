package oidckit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingIssuer        = errors.New("oidc: discovery document missing issuer")
	ErrMissingJWKSURI       = errors.New("oidc: discovery document missing jwks_uri")
	ErrMissingTokenEndpoint = errors.New("oidc: discovery document missing token_endpoint")
)

// Fetcher retrieves the raw bytes behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Metadata is the subset of an OpenID Connect / OAuth 2.0 authorization server
// metadata document this module uses.
type Metadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty"`
	TokenEndpoint         string `json:"token_endpoint,omitempty"`
	JWKSURI               string `json:"jwks_uri"`
}

// Discover fetches and decodes the metadata document at discoveryURL.
func Discover(ctx context.Context, f Fetcher, discoveryURL string) (*Metadata, error) {
	if strings.TrimSpace(discoveryURL) == "" {
		return nil, errors.New("oidc: discovery url is empty")
	}
	body, err := f.Fetch(ctx, discoveryURL)
	if err != nil {
		return nil, fmt.Errorf("oidc: discovery failed for %s: %w", discoveryURL, err)
	}
	var doc Metadata
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("oidc: decode discovery document from %s: %w", discoveryURL, err)
	}
	return &doc, nil
}

// DiscoverIssuer fetches metadata and requires issuer and jwks_uri.
func DiscoverIssuer(ctx context.Context, f Fetcher, discoveryURL string) (*Metadata, error) {
	doc, err := Discover(ctx, f, discoveryURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(doc.Issuer) == "" {
		return nil, ErrMissingIssuer
	}
	if strings.TrimSpace(doc.JWKSURI) == "" {
		return nil, ErrMissingJWKSURI
	}
	return doc, nil
}

// DiscoverTokenEndpoint fetches metadata and returns its token_endpoint.
func DiscoverTokenEndpoint(ctx context.Context, f Fetcher, wellKnownURL string) (string, error) {
	doc, err := Discover(ctx, f, wellKnownURL)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(doc.TokenEndpoint) == "" {
		return "", ErrMissingTokenEndpoint
	}
	return doc.TokenEndpoint, nil
}
