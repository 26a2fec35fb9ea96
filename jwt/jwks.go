package jwtkit

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"
)

// JWK is the public RSA key entry of a published key set.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is a published key set document.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// RSAPublicToJWK converts an RSA public key to a signing JWK.
func RSAPublicToJWK(pub *rsa.PublicKey, kid, alg string) JWK {
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: kid,
		Alg: alg,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// JWKSFor publishes the public halves of the given signers.
func JWKSFor(signers ...*RSASigner) JWKS {
	ks := JWKS{Keys: make([]JWK, 0, len(signers))}
	for _, s := range signers {
		ks.Keys = append(ks.Keys, RSAPublicToJWK(s.PublicKey(), s.KID(), s.Algorithm()))
	}
	return ks
}

// Document is a marshaled key set with a content-derived entity tag. It
// serves GET and HEAD and answers If-None-Match with 304.
type Document struct {
	body []byte
	etag string
}

// NewDocument marshals ks once.
func NewDocument(ks JWKS) Document {
	b, _ := json.Marshal(ks)
	sum := sha256.Sum256(b)
	return Document{body: b, etag: `"` + hex.EncodeToString(sum[:]) + `"`}
}

// ETag returns the quoted entity tag.
func (d Document) ETag() string { return d.etag }

func (d Document) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("ETag", d.etag)
	w.Header().Set("Cache-Control", "public, max-age=300, must-revalidate")
	if etagMatches(r.Header.Get("If-None-Match"), d.etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(d.body)
}

// ServeJWKS writes ks as a key set document.
func ServeJWKS(w http.ResponseWriter, r *http.Request, ks JWKS) {
	NewDocument(ks).ServeHTTP(w, r)
}

// etagMatches implements the weak comparison of If-None-Match.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
