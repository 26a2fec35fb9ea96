package authhttp

import (
	"net/http"

	jwtkit "github.com/navikt/token-support-sub000/jwt"
)

// JWKSHandler publishes the public halves of the keys a client uses for
// private_key_jwt authentication, so an authorization server can fetch them.
func JWKSHandler(signers ...*jwtkit.RSASigner) http.Handler {
	return jwtkit.NewDocument(jwtkit.JWKSFor(signers...))
}
