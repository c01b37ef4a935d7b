// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

// Package domain describes the named data categories time capsule protects.
//
// A file Domain is a data root under the application base directory with a
// path predicate, a sensitivity rating used for recovery risk scoring and an
// optional display counter. A StateDomain is a small serialized blob captured
// by system snapshots. Both sets are fixed when the Registry is built.
package domain

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/timecapsule/internal/logging"
)

// Sensitivity feeds the recovery planner's risk score.
type Sensitivity string

const (
	SensitivityNormal   Sensitivity = "normal"
	SensitivityElevated Sensitivity = "elevated"
	SensitivityHigh     Sensitivity = "high"
)

// Counter returns a cheap, display-only count for a domain.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(ctx context.Context) (int64, error)

// Count implements Counter.
func (f CounterFunc) Count(ctx context.Context) (int64, error) { return f(ctx) }

// StateDomain is a small non-file state blob owned by a collaborator.
type StateDomain interface {
	Name() string
	Serialize(ctx context.Context) ([]byte, error)
	Deserialize(ctx context.Context, data []byte) error
}

// Domain is one backed-up data root.
type Domain struct {
	Name        string
	Root        string // slash-separated, relative to the base directory
	Sensitivity Sensitivity
	Counter     Counter

	// SQLiteSnapshot stages .db, .sqlite and .sqlite3 files with VACUUM INTO
	// instead of a byte copy, trading byte-identical restores for a
	// transactionally consistent database.
	SQLiteSnapshot bool
}

// Matches reports whether a slash-separated manifest entry belongs to the domain.
func (d Domain) Matches(entry string) bool {
	return entry == d.Root || strings.HasPrefix(entry, d.Root+"/")
}

// Registry is the closed set of file and state domains.
type Registry struct {
	domains  []Domain
	byName   map[string]int
	states   []StateDomain
	byState  map[string]int
	breakers map[string]*gobreaker.CircuitBreaker[int64]
}

// NewRegistry validates and indexes the domains. Names must be unique and
// roots must not overlap.
func NewRegistry(domains []Domain, states []StateDomain) (*Registry, error) {
	r := &Registry{
		byName:   make(map[string]int, len(domains)),
		byState:  make(map[string]int, len(states)),
		breakers: make(map[string]*gobreaker.CircuitBreaker[int64], len(domains)),
	}

	for _, d := range domains {
		if d.Name == "" || d.Root == "" {
			return nil, fmt.Errorf("domain requires a name and a root")
		}
		d.Root = path.Clean(d.Root)
		if d.Root == "." || d.Root == ".." || strings.HasPrefix(d.Root, "../") || path.IsAbs(d.Root) {
			return nil, fmt.Errorf("domain %q root %q must be a directory below the base directory", d.Name, d.Root)
		}
		if d.Sensitivity == "" {
			d.Sensitivity = SensitivityNormal
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate domain %q", d.Name)
		}
		for _, other := range r.domains {
			if other.Matches(d.Root) || d.Matches(other.Root) {
				return nil, fmt.Errorf("domain %q root %q overlaps domain %q", d.Name, d.Root, other.Name)
			}
		}
		r.byName[d.Name] = len(r.domains)
		r.domains = append(r.domains, d)
		if d.Counter != nil {
			r.breakers[d.Name] = newCounterBreaker(d.Name)
		}
	}

	for _, s := range states {
		if _, dup := r.byState[s.Name()]; dup {
			return nil, fmt.Errorf("duplicate state domain %q", s.Name())
		}
		r.byState[s.Name()] = len(r.states)
		r.states = append(r.states, s)
	}

	return r, nil
}

func newCounterBreaker(name string) *gobreaker.CircuitBreaker[int64] {
	return gobreaker.NewCircuitBreaker[int64](gobreaker.Settings{
		Name:        "counter:" + name,
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Counter circuit breaker changed state")
		},
	})
}

// Domains returns the file domains in registration order.
func (r *Registry) Domains() []Domain {
	out := make([]Domain, len(r.domains))
	copy(out, r.domains)
	return out
}

// Names returns the file domain names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.domains))
	for _, d := range r.domains {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

// Get returns the named file domain.
func (r *Registry) Get(name string) (Domain, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Domain{}, false
	}
	return r.domains[i], true
}

// DomainFor returns the domain owning a manifest entry.
func (r *Registry) DomainFor(entry string) (Domain, bool) {
	for _, d := range r.domains {
		if d.Matches(entry) {
			return d, true
		}
	}
	return Domain{}, false
}

// States returns the state domains in registration order.
func (r *Registry) States() []StateDomain {
	out := make([]StateDomain, len(r.states))
	copy(out, r.states)
	return out
}

// State returns the named state domain.
func (r *Registry) State(name string) (StateDomain, bool) {
	i, ok := r.byState[name]
	if !ok {
		return nil, false
	}
	return r.states[i], true
}
