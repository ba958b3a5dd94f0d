// Package provision implements the Provisioner (spec.md §4.4): single-flight
// coordination so at most one CREATE DATABASE runs per database name, even
// under concurrent first-time requests.
package provision

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	"pgfrontdoor/pkg/logger"
)

// Creator runs CREATE DATABASE against the backend. *admin.Channel satisfies
// this.
type Creator interface {
	CreateDatabase(ctx context.Context, name string) error
}

// Provisioner de-duplicates concurrent ensure(name) calls for the same name
// (spec.md §3 "InflightCreations", §4.4).
type Provisioner struct {
	creator       Creator
	autoProvision bool

	mu  sync.RWMutex
	set map[string]struct{} // ProvisionedSet

	flight singleflight.Group // realizes InflightCreations
}

// ErrAutoProvisionDisabled is returned by Ensure for an unknown database
// when auto-provisioning is turned off (spec.md §6 CLI surface
// "auto-provision (boolean, default true) -> when false, unknown databases
// are rejected instead of created").
var ErrAutoProvisionDisabled = errors.New("provision: database does not exist and auto-provisioning is disabled")

// New creates a Provisioner. existing seeds the ProvisionedSet (e.g. from
// Channel.ExistingDatabases at startup in persistent mode); "postgres" is
// always present regardless of what existing contains. When autoProvision
// is false, Ensure rejects any name not already in existing.
func New(creator Creator, existing []string, autoProvision bool) *Provisioner {
	set := make(map[string]struct{}, len(existing)+1)
	set["postgres"] = struct{}{}
	for _, name := range existing {
		set[name] = struct{}{}
	}
	return &Provisioner{creator: creator, autoProvision: autoProvision, set: set}
}

// Known reports whether name is already in the ProvisionedSet, without
// triggering creation.
func (p *Provisioner) Known(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.set[name]
	return ok
}

// Ensure returns once name is present in the backend, creating it if
// necessary. Concurrent calls for the same name collapse into one
// CREATE DATABASE execution (spec.md §4.4 algorithm).
func (p *Provisioner) Ensure(ctx context.Context, name string) error {
	if name == "postgres" {
		p.markProvisioned(name)
		return nil
	}
	if p.Known(name) {
		return nil
	}
	if !p.autoProvision {
		return ErrAutoProvisionDisabled
	}

	_, err, shared := p.flight.Do(name, func() (interface{}, error) {
		if p.Known(name) {
			return nil, nil
		}
		if err := p.creator.CreateDatabase(ctx, name); err != nil {
			return nil, err
		}
		p.markProvisioned(name)
		return nil, nil
	})
	if shared {
		logger.Debug("provision: joined an in-flight creation for %q", name)
	}
	return err
}

func (p *Provisioner) markProvisioned(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set[name] = struct{}{}
}

// Snapshot returns a copy of the ProvisionedSet, used by the Lifecycle
// Façade's Stats().
func (p *Provisioner) Snapshot() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.set))
	for name := range p.set {
		names = append(names, name)
	}
	return names
}
