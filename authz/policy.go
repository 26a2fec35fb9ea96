package authz

import (
	"sync"

	"github.com/navikt/token-support-sub000/token"
)

// Policy maps operation names (routes, RPC methods) to requirements.
// Requirements are attached at registration time; lookups are concurrent-safe.
type Policy struct {
	mu       sync.RWMutex
	byOp     map[string]Requirement
	fallback Requirement
}

// NewPolicy creates a policy whose unregistered operations use fallback. A
// nil fallback means AnyValidToken.
func NewPolicy(fallback Requirement) *Policy {
	if fallback == nil {
		fallback = AnyValidToken{}
	}
	return &Policy{byOp: make(map[string]Requirement), fallback: fallback}
}

// Register attaches req to operation, replacing any previous requirement.
func (p *Policy) Register(operation string, req Requirement) *Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byOp[operation] = req
	return p
}

// Requirement returns the requirement for operation and whether it was
// registered explicitly.
func (p *Policy) Requirement(operation string) (Requirement, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if r, ok := p.byOp[operation]; ok {
		return r, true
	}
	return p.fallback, false
}

// Evaluate looks up operation and evaluates its requirement against tokens.
func (p *Policy) Evaluate(operation string, tokens *token.ValidatedTokens) Decision {
	r, _ := p.Requirement(operation)
	return Evaluate(r, tokens)
}
