package validation

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/navikt/token-support-sub000/token"
)

const bearerPrefix = "bearer "

// Cookie is a name/value pair from an inbound request.
type Cookie struct {
	Name  string
	Value string
}

// Request is the framework independent view of an inbound request.
type Request interface {
	Header(name string) string
	Cookies() []Cookie
}

type httpRequest struct{ r *http.Request }

// FromHTTPRequest adapts a net/http request.
func FromHTTPRequest(r *http.Request) Request { return httpRequest{r: r} }

func (h httpRequest) Header(name string) string { return h.r.Header.Get(name) }

func (h httpRequest) Cookies() []Cookie {
	cs := h.r.Cookies()
	out := make([]Cookie, 0, len(cs))
	for _, c := range cs {
		out = append(out, Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

// ExtractTokens returns the bearer tokens from the first configured header
// present on req, followed by tokens from configured cookies. Tokens that do
// not parse or whose issuer is not registered are dropped and logged.
func ExtractTokens(req Request, reg *Registry) []token.RawToken {
	log := reg.logger()
	var out []token.RawToken
	out = append(out, headerTokens(req, reg, log)...)
	out = append(out, cookieTokens(req, reg, log)...)
	return out
}

func headerTokens(req Request, reg *Registry, log logrus.FieldLogger) []token.RawToken {
	var header, value string
	for _, iss := range reg.ordered {
		name := iss.HeaderName()
		if v := req.Header(name); v != "" {
			header, value = name, v
			break
		}
	}
	if value == "" {
		return nil
	}

	var out []token.RawToken
	for _, segment := range strings.Split(value, ",") {
		segment = strings.TrimSpace(segment)
		if len(segment) <= len(bearerPrefix) || !strings.EqualFold(segment[:len(bearerPrefix)], bearerPrefix) {
			continue
		}
		encoded := strings.TrimSpace(segment[len(bearerPrefix):])
		raw, err := token.ParseUnverified(encoded)
		if err != nil {
			log.WithError(err).WithField("header", header).Warn("dropping unparsable bearer token")
			continue
		}
		if _, ok := reg.ByIssuer(raw.Issuer); !ok {
			log.WithFields(logrus.Fields{"header": header, "issuer": raw.Issuer}).Debug("dropping bearer token from unregistered issuer")
			continue
		}
		out = append(out, raw)
	}
	return out
}

func cookieTokens(req Request, reg *Registry, log logrus.FieldLogger) []token.RawToken {
	names := make(map[string]struct{})
	for _, iss := range reg.ordered {
		if c := strings.TrimSpace(iss.Config.CookieName); c != "" {
			names[c] = struct{}{}
		}
	}
	if len(names) == 0 {
		return nil
	}

	var out []token.RawToken
	for _, c := range req.Cookies() {
		if _, ok := names[c.Name]; !ok {
			continue
		}
		value, err := url.QueryUnescape(c.Value)
		if err != nil {
			log.WithError(err).WithField("cookie", c.Name).Warn("dropping undecodable token cookie")
			continue
		}
		raw, err := token.ParseUnverified(value)
		if err != nil {
			log.WithError(err).WithField("cookie", c.Name).Warn("dropping unparsable token cookie")
			continue
		}
		out = append(out, raw)
	}
	return out
}

func (r *Registry) logger() logrus.FieldLogger {
	if r.log == nil {
		return logrus.StandardLogger()
	}
	return r.log
}
