// Package moduli keeps the Diffie-Hellman groups the server can hand out for
// negotiated-group key exchange, indexed by bit length.
//
// A Repository is populated once at startup from a Source and is read-only
// afterwards, so connection handlers may query it concurrently without
// locking. An empty repository is a valid state: it means no moduli file was
// found and negotiated-group exchanges must not be offered.
package moduli

import (
	"log/slog"
	"math/big"
	"math/rand/v2"

	"sshgate/internal/domain"
	"sshgate/internal/log"
)

// Group is a Diffie-Hellman (generator, prime) pair.
type Group struct {
	Generator *big.Int
	Prime     *big.Int
}

// Entry lists the groups stored for one bit length.
type Entry struct {
	Bits   int
	Groups []Group
}

// Table is an ordered mapping from bit length to groups. The slice order is
// the enumeration order used to break ties in NearestGroup.
type Table []Entry

// Source loads DH groups. Returning an empty table is valid.
type Source interface {
	LoadPrimes() (Table, error)
}

// Repository holds the groups available to the server.
type Repository struct {
	source Source
	logger *slog.Logger

	loaded  bool
	entries Table
}

// NewRepository creates an unloaded repository backed by src. A nil src is
// allowed and behaves like a source with no moduli.
func NewRepository(src Source, logger *slog.Logger) *Repository {
	return &Repository{source: src, logger: log.OrDefault(logger)}
}

// Seed populates the repository directly. A seeded repository is considered
// loaded and EnsureLoaded will not consult the source.
func (r *Repository) Seed(t Table) {
	r.entries = normalize(t)
	r.loaded = true
}

// EnsureLoaded loads the groups from the source unless the repository is
// already loaded. Missing moduli are not an error: the repository is marked
// loaded and empty.
func (r *Repository) EnsureLoaded() {
	if r.loaded {
		return
	}
	r.loaded = true

	if r.source == nil {
		r.logger.Info("no moduli source configured")
		return
	}
	t, err := r.source.LoadPrimes()
	if err != nil {
		r.logger.Warn("loading moduli failed", "err", err)
		return
	}
	r.entries = normalize(t)
	r.logger.Debug("moduli loaded", "sizes", len(r.entries))
}

// Loaded reports whether EnsureLoaded or Seed has run.
func (r *Repository) Loaded() bool {
	return r.loaded
}

// Empty reports whether there is no group to serve.
func (r *Repository) Empty() bool {
	return len(r.entries) == 0
}

// Bits returns the stored bit lengths in enumeration order.
func (r *Repository) Bits() []int {
	bits := make([]int, len(r.entries))
	for i, e := range r.entries {
		bits[i] = e.Bits
	}
	return bits
}

// NearestGroup returns a group whose bit length is closest to bits.
//
// When two stored sizes are equally far from bits the one enumerated first
// wins; no preference for the larger or smaller size is applied. The group
// within the winning size is picked at random on every call.
func (r *Repository) NearestGroup(bits int) (Group, error) {
	if bits <= 0 {
		return Group{}, domain.ErrInvalidBits
	}
	if r.Empty() {
		return Group{}, domain.ErrNoModuli
	}

	best := 0
	bestDist := distance(r.entries[0].Bits, bits)
	for i := 1; i < len(r.entries); i++ {
		// Strictly closer only, so ties keep the earlier entry.
		if d := distance(r.entries[i].Bits, bits); d < bestDist {
			best, bestDist = i, d
		}
	}

	groups := r.entries[best].Groups
	return groups[rand.IntN(len(groups))], nil
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// normalize merges duplicate sizes into their first occurrence and drops
// sizes without groups.
func normalize(t Table) Table {
	out := make(Table, 0, len(t))
	index := make(map[int]int, len(t))
	for _, e := range t {
		if len(e.Groups) == 0 || e.Bits <= 0 {
			continue
		}
		if i, ok := index[e.Bits]; ok {
			out[i].Groups = append(out[i].Groups, e.Groups...)
			continue
		}
		index[e.Bits] = len(out)
		out = append(out, Entry{Bits: e.Bits, Groups: append([]Group(nil), e.Groups...)})
	}
	return out
}
