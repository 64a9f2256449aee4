// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package route

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync/atomic"

	perrors "github.com/absmach/vproxy/pkg/errors"
)

// Upstream is the backend address a domain is forwarded to.
type Upstream struct {
	Host string `yaml:"host"`
	Port uint16 `yaml:"port"`
}

// Addr returns the upstream address in host:port form.
func (u Upstream) Addr() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(int(u.Port)))
}

// Route associates a domain with an upstream.
type Route struct {
	Domain   string   `yaml:"domain"`
	Upstream Upstream `yaml:"upstream"`
}

// Validate reports ErrInvalidRoute for an empty field or a zero port.
func (r Route) Validate() error {
	switch {
	case r.Domain == "":
		return fmt.Errorf("%w: empty domain", perrors.ErrInvalidRoute)
	case r.Upstream.Host == "":
		return fmt.Errorf("%w: empty upstream host for %s", perrors.ErrInvalidRoute, r.Domain)
	case r.Upstream.Port == 0:
		return fmt.Errorf("%w: zero upstream port for %s", perrors.ErrInvalidRoute, r.Domain)
	}
	return nil
}

// Table is an immutable domain -> upstream mapping. It is safe for concurrent
// lookups and is never modified after Build returns.
type Table struct {
	routes map[string]Upstream
}

// Build creates a Table from routes. Two entries for the same domain fail
// with ErrDuplicateDomain.
func Build(routes []Route) (*Table, error) {
	t := &Table{routes: make(map[string]Upstream, len(routes))}
	for _, r := range routes {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, ok := t.routes[r.Domain]; ok {
			return nil, fmt.Errorf("%w: %s", perrors.ErrDuplicateDomain, r.Domain)
		}
		t.routes[r.Domain] = r.Upstream
	}
	return t, nil
}

// Lookup returns the upstream registered for domain. Domains are compared
// by exact, case-sensitive equality.
func (t *Table) Lookup(domain string) (Upstream, bool) {
	if t == nil {
		return Upstream{}, false
	}
	u, ok := t.routes[domain]
	return u, ok
}

// Len returns the number of routes.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.routes)
}

// Routes returns a copy of the table sorted by domain.
func (t *Table) Routes() []Route {
	if t == nil {
		return nil
	}
	out := make([]Route, 0, len(t.routes))
	for d, u := range t.routes {
		out = append(out, Route{Domain: d, Upstream: u})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}

// Store holds the current Table snapshot. Swap replaces the whole table at
// once, so a concurrent Lookup sees either the old or the new table.
type Store struct {
	table atomic.Pointer[Table]
}

// NewStore creates a Store holding t. A nil t is replaced by an empty table.
func NewStore(t *Table) *Store {
	s := &Store{}
	s.Swap(t)
	return s
}

// Load returns the current snapshot.
func (s *Store) Load() *Table {
	return s.table.Load()
}

// Swap installs t and returns the previous snapshot.
func (s *Store) Swap(t *Table) *Table {
	if t == nil {
		t = &Table{routes: map[string]Upstream{}}
	}
	return s.table.Swap(t)
}

// Lookup resolves domain against the current snapshot.
func (s *Store) Lookup(domain string) (Upstream, bool) {
	return s.Load().Lookup(domain)
}
