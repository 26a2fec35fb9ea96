package oauth2client

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument reports a request that cannot be built: a missing
	// credential, an unsupported grant or credentials that cannot be encoded.
	ErrInvalidArgument = errors.New("oauth2client: invalid argument")
	// ErrNoSubjectToken is returned when a delegation grant is requested and
	// no validated subject token is available.
	ErrNoSubjectToken = errors.New("oauth2client: no subject token available for delegation grant")
)

// ClientError reports a failed token endpoint call. StatusCode is zero for
// transport failures, in which case Err holds the cause.
type ClientError struct {
	Endpoint         string
	StatusCode       int
	Body             string
	OAuthError       string
	OAuthDescription string
	Err              error
}

func (e *ClientError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("token request to %s failed: %v", e.Endpoint, e.Err)
	case e.OAuthError != "":
		return fmt.Sprintf("token request to %s failed with status %d: %s (%s)", e.Endpoint, e.StatusCode, e.OAuthError, e.OAuthDescription)
	default:
		return fmt.Sprintf("token request to %s failed with status %d: %s", e.Endpoint, e.StatusCode, e.Body)
	}
}

func (e *ClientError) Unwrap() error { return e.Err }

type oauthErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func newStatusError(endpoint string, status int, body []byte) *ClientError {
	ce := &ClientError{Endpoint: endpoint, StatusCode: status, Body: string(body)}
	var oe oauthErrorBody
	if json.Unmarshal(body, &oe) == nil && oe.Error != "" {
		ce.OAuthError = oe.Error
		ce.OAuthDescription = oe.ErrorDescription
	}
	return ce
}
