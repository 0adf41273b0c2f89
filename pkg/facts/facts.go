// Package facts provides host facts such as the operating system family.
package facts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/openfroyo/converge/pkg/stores"
)

// Well-known fact names.
const (
	OperatingSystem = "Operatingsystem"
	Hostname        = "Hostname"
	Kernel          = "Kernel"
	Architecture    = "Architecture"
)

// ErrUnknownFact is returned for facts a provider does not know.
var ErrUnknownFact = errors.New("unknown fact")

// Provider returns host facts by name.
type Provider interface {
	Get(name string) (string, error)
}

// Names lists the facts reported by Local.
func Names() []string {
	return []string{Architecture, Hostname, Kernel, OperatingSystem}
}

// Local reports facts about the running host. Values are read once and cached
// for the lifetime of the provider.
type Local struct {
	once  sync.Once
	facts map[string]string
	err   error
}

// NewLocal creates a provider for the running host.
func NewLocal() *Local {
	return &Local{}
}

// Get returns the named fact.
func (l *Local) Get(name string) (string, error) {
	l.once.Do(l.load)
	if l.err != nil {
		return "", l.err
	}
	v, ok := l.facts[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownFact, name)
	}
	return v, nil
}

func (l *Local) load() {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		l.err = fmt.Errorf("uname: %w", err)
		return
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = unix.ByteSliceToString(uts.Nodename[:])
	}

	l.facts = map[string]string{
		OperatingSystem: unix.ByteSliceToString(uts.Sysname[:]),
		Hostname:        hostname,
		Kernel:          unix.ByteSliceToString(uts.Release[:]),
		Architecture:    unix.ByteSliceToString(uts.Machine[:]),
	}
}

// Static serves a fixed set of facts.
type Static map[string]string

// Get returns the named fact.
func (s Static) Get(name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownFact, name)
	}
	return v, nil
}

// Overlay returns overrides when set, falling back to base.
func Overlay(base Provider, overrides map[string]string) Provider {
	if len(overrides) == 0 {
		return base
	}
	return overlay{base: base, overrides: Static(overrides)}
}

type overlay struct {
	base      Provider
	overrides Static
}

func (o overlay) Get(name string) (string, error) {
	if v, err := o.overrides.Get(name); err == nil {
		return v, nil
	}
	return o.base.Get(name)
}

// Cached stores facts from an underlying provider in a FactStore with a TTL,
// so that repeated runs within the TTL reuse the recorded values.
type Cached struct {
	store    stores.FactStore
	source   Provider
	targetID string
	ttl      time.Duration
}

// NewCached wraps source with a store-backed cache keyed by targetID.
func NewCached(store stores.FactStore, source Provider, targetID string, ttl time.Duration) *Cached {
	return &Cached{
		store:    store,
		source:   source,
		targetID: targetID,
		ttl:      ttl,
	}
}

// Get returns the cached fact, refreshing it from the source when missing or
// expired. Store failures fall back to the source.
func (c *Cached) Get(name string) (string, error) {
	ctx := context.Background()

	if fact, err := c.store.GetFact(ctx, c.targetID, name); err == nil {
		return fact.Value, nil
	}

	value, err := c.source.Get(name)
	if err != nil {
		return "", err
	}

	_ = c.store.UpsertFact(ctx, &stores.Fact{
		TargetID: c.targetID,
		Name:     name,
		Value:    value,
		TTL:      int(c.ttl / time.Second),
	})
	return value, nil
}

// Collect returns every named fact that p knows, ordered by name.
func Collect(p Provider, names []string) (map[string]string, []string) {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	out := make(map[string]string, len(sorted))
	var missing []string
	for _, name := range sorted {
		v, err := p.Get(name)
		if err != nil {
			missing = append(missing, name)
			continue
		}
		out[name] = v
	}
	return out, missing
}
