package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"verifica.org/internal/auth"
	"verifica.org/internal/identity"
	"verifica.org/internal/ledger"
	"verifica.org/internal/roles"
)

// ChainHeader names the network the caller's wallet currently points at.
const ChainHeader = "X-Chain-Id"

// Network is what a request can reach on one chain.
type Network struct {
	Ledger ledger.Contract
	Names  identity.Conn
}

// Networks maps chain ids to their connections.
type Networks map[int64]Network

// conns returns the connections for the request's chain. No header, or a chain
// nothing is configured for, yields nil connections.
func (a *API) conns(r *http.Request) (ledger.Contract, identity.Conn, error) {
	raw := strings.TrimSpace(r.Header.Get(ChainHeader))
	if raw == "" {
		return nil, nil, nil
	}
	id, err := parseChainID(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", errBadRequest, ChainHeader, err)
	}
	n, ok := a.Networks[id]
	if !ok {
		return nil, nil, nil
	}
	return n.Ledger, n.Names, nil
}

// parseChainID accepts decimal or 0x-prefixed hex, the two forms wallets use.
func parseChainID(s string) (int64, error) {
	var (
		id  int64
		err error
	)
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		id, err = strconv.ParseInt(rest, 16, 64)
	} else {
		id, err = strconv.ParseInt(s, 10, 64)
	}
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid chain id %q", s)
	}
	return id, nil
}

// session is the resolved caller of a request.
type session struct {
	caller  auth.Caller
	name    string
	binding roles.Binding
	ledger  ledger.Contract
	names   identity.Conn
}

// session derives the caller's binding: the name comes from the caller's email
// alias when there is one, otherwise from reverse resolution.
func (a *API) session(r *http.Request) (session, error) {
	c, ok := auth.CallerFromContext(r.Context())
	if !ok {
		return session{}, auth.ErrUnauthorized
	}
	lc, nc, err := a.conns(r)
	if err != nil {
		return session{}, err
	}
	s := session{caller: c, ledger: lc, names: nc}
	s.name = a.nameOf(r.Context(), c, nc)
	s.binding = a.Deriver.Derive(s.name, c.Identity)
	return s, nil
}

func (a *API) nameOf(ctx context.Context, c auth.Caller, conn identity.Conn) string {
	if c.Email != "" && a.Directory != nil {
		if name, ok := a.Directory.NameForEmail(ctx, c.Email); ok {
			return name
		}
	}
	if a.Resolver == nil {
		return ""
	}
	name, _ := a.Resolver.LookupName(ctx, conn, c.Identity)
	return name
}
