// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

package domain

import (
	"sort"

	"github.com/tomtom215/timecapsule/internal/apperr"
)

// Scope is the restore selection: domain name to include flag.
// A nil or empty Scope selects every domain.
type Scope map[string]bool

// FullScope returns a scope with every registered domain set to true.
func (r *Registry) FullScope() Scope {
	s := make(Scope, len(r.domains))
	for _, d := range r.domains {
		s[d.Name] = true
	}
	return s
}

// ScopeOf builds a scope including exactly the named domains.
func ScopeOf(names ...string) Scope {
	s := make(Scope, len(names))
	for _, n := range names {
		s[n] = true
	}
	return s
}

// Selection is a resolved scope.
type Selection struct {
	domains []Domain
	all     bool
}

// Includes reports whether a manifest entry is selected.
func (s Selection) Includes(entry string) bool {
	for _, d := range s.domains {
		if d.Matches(entry) {
			return true
		}
	}
	return false
}

// Domains returns the selected domains.
func (s Selection) Domains() []Domain {
	return s.domains
}

// Names returns the selected domain names, sorted.
func (s Selection) Names() []string {
	names := make([]string, len(s.domains))
	for i, d := range s.domains {
		names[i] = d.Name
	}
	sort.Strings(names)
	return names
}

// All reports whether the selection covers every registered domain.
func (s Selection) All() bool {
	return s.all
}

// Resolve validates a scope against the registry. Unknown names are a
// validation error; domains mapped to false or omitted from a non-empty
// scope are excluded.
func (r *Registry) Resolve(scope Scope) (Selection, error) {
	if len(scope) == 0 {
		return Selection{domains: r.Domains(), all: true}, nil
	}

	for name := range scope {
		if _, ok := r.byName[name]; !ok {
			return Selection{}, apperr.Validation("domain.Resolve", "unknown domain %q", name)
		}
	}

	sel := Selection{}
	for _, d := range r.domains {
		if scope[d.Name] {
			sel.domains = append(sel.domains, d)
		}
	}
	if len(sel.domains) == 0 {
		return Selection{}, apperr.Validation("domain.Resolve", "scope selects no domains")
	}
	sel.all = len(sel.domains) == len(r.domains)
	return sel, nil
}

// ResolveNames is Resolve for a list of names; an empty list selects all.
func (r *Registry) ResolveNames(names []string) (Selection, error) {
	return r.Resolve(ScopeOf(names...))
}
