package token

// ValidatedTokens is the immutable set of verified tokens for one request,
// keyed by issuer short name. It holds at most one token per issuer.
type ValidatedTokens struct {
	byIssuer map[string]*JWT
	order    []string
}

// NewValidatedTokens builds a set from verified tokens in arrival order. When
// two tokens share an issuer the first one is kept.
func NewValidatedTokens(tokens ...*JWT) *ValidatedTokens {
	vt := &ValidatedTokens{byIssuer: make(map[string]*JWT, len(tokens))}
	for _, t := range tokens {
		if t == nil {
			continue
		}
		if _, dup := vt.byIssuer[t.IssuerName()]; dup {
			continue
		}
		vt.byIssuer[t.IssuerName()] = t
		vt.order = append(vt.order, t.IssuerName())
	}
	return vt
}

// Get returns the token verified for issuerName.
func (v *ValidatedTokens) Get(issuerName string) (*JWT, bool) {
	if v == nil {
		return nil, false
	}
	t, ok := v.byIssuer[issuerName]
	return t, ok
}

// HasTokenFor reports whether a verified token exists for issuerName.
func (v *ValidatedTokens) HasTokenFor(issuerName string) bool {
	_, ok := v.Get(issuerName)
	return ok
}

// HasValidToken reports whether any token was verified.
func (v *ValidatedTokens) HasValidToken() bool { return v.Len() > 0 }

// Len returns the number of verified tokens.
func (v *ValidatedTokens) Len() int {
	if v == nil {
		return 0
	}
	return len(v.order)
}

// Issuers lists issuer short names in arrival order.
func (v *ValidatedTokens) Issuers() []string {
	if v == nil {
		return nil
	}
	return append([]string(nil), v.order...)
}

// FirstValidToken returns the earliest verified token.
func (v *ValidatedTokens) FirstValidToken() (*JWT, bool) {
	if v.Len() == 0 {
		return nil, false
	}
	return v.byIssuer[v.order[0]], true
}

// All returns the tokens in arrival order.
func (v *ValidatedTokens) All() []*JWT {
	if v == nil {
		return nil
	}
	out := make([]*JWT, 0, len(v.order))
	for _, name := range v.order {
		out = append(out, v.byIssuer[name])
	}
	return out
}
