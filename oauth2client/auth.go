package oauth2client

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ClientAssertionType is the client_assertion_type sent with private_key_jwt.
const ClientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// assertionLifetime is the validity of a private_key_jwt client assertion.
const assertionLifetime = 60 * time.Second

// apply adds the client authentication for a call to endpoint to the form
// and headers.
func (a ClientAuth) apply(ctx context.Context, endpoint string, form url.Values, header http.Header, now time.Time) error {
	switch a.method {
	case ClientSecretBasic:
		if !utf8.ValidString(a.clientID) || !utf8.ValidString(a.secret) {
			return fmt.Errorf("%w: client id or secret is not valid UTF-8", ErrInvalidArgument)
		}
		creds := a.clientID + ":" + a.secret
		header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(creds)))
		return nil
	case ClientSecretPost:
		form.Set("client_id", a.clientID)
		form.Set("client_secret", a.secret)
		return nil
	case PrivateKeyJWT:
		assertion, err := a.clientAssertion(ctx, endpoint, now)
		if err != nil {
			return err
		}
		form.Set("client_id", a.clientID)
		form.Set("client_assertion_type", ClientAssertionType)
		form.Set("client_assertion", assertion)
		return nil
	default:
		return fmt.Errorf("%w: unsupported client auth method %q", ErrInvalidArgument, a.method)
	}
}

// clientAssertion signs a new assertion for every call.
func (a ClientAuth) clientAssertion(ctx context.Context, endpoint string, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss": a.clientID,
		"sub": a.clientID,
		"aud": endpoint,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(assertionLifetime).Unix(),
		"jti": uuid.NewString(),
	}
	signed, err := a.key.Sign(ctx, claims)
	if err != nil {
		return "", fmt.Errorf("sign client assertion: %w", err)
	}
	return signed, nil
}
