package api

import "net/http"

// Identity resolves the caller to an owner id. Session issuance and
// verification live outside this service; whatever sits in front of it
// (gateway, reverse proxy) is trusted to set the header.
type Identity interface {
	Resolve(r *http.Request) string
}

// HeaderIdentity reads the owner id from a request header, falling back
// to a fixed id for unauthenticated development setups.
type HeaderIdentity struct {
	Header   string
	Fallback string
}

func NewHeaderIdentity() *HeaderIdentity {
	return &HeaderIdentity{Header: "X-User-ID", Fallback: "demo"}
}

func (h *HeaderIdentity) Resolve(r *http.Request) string {
	if id := r.Header.Get(h.Header); id != "" {
		return id
	}
	return h.Fallback
}
