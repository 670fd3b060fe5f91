package netmerge

import (
	"errors"
	"fmt"
	"math/big"
	"slices"

	"golang.org/x/sync/errgroup"
)

// DefaultCoverageThreshold is the fraction of a parent's address space that
// must be reconstructed from kept children before the children are replaced
// by the parent.
const DefaultCoverageThreshold = 0.9

// ErrInvalidThreshold indicates a coverage threshold outside (0, 1].
var ErrInvalidThreshold = errors.New("netmerge: coverage threshold must be in (0, 1]")

// Merger aggregates CIDR ranges. The zero value is not usable; set
// CoverageThreshold or use NewMerger.
type Merger struct {
	// CoverageThreshold is the fraction in (0, 1] of a parent prefix that
	// must be covered by strict descendants to promote them to the parent.
	CoverageThreshold float64

	// Observer receives per-pass diagnostics. Nil means silent.
	Observer Observer
}

// NewMerger returns a Merger with the default coverage threshold and no
// diagnostics.
func NewMerger() *Merger {
	return &Merger{CoverageThreshold: DefaultCoverageThreshold}
}

// MergeRanges merges rawCIDRs with the default coverage threshold.
func MergeRanges(rawCIDRs []string) ([]string, error) {
	return NewMerger().MergeRanges(rawCIDRs)
}

// MergeRanges parses rawCIDRs, optimizes the IPv4 and IPv6 subsets
// independently, and returns the surviving ranges as canonical CIDR text,
// IPv4 results before IPv6 results. Any unparsable input aborts the whole
// call with ErrInvalidCIDR and no partial output: silently dropping an
// intended allowlist entry is worse than failing the run.
//
// The per-family optimization is a greedy left-to-right merge iterated
// until a pass stops shrinking the set. It is not guaranteed globally
// minimal, and each pass scans the full working set per cursor position
// (O(n²) worst case) — fine for allowlist-sized inputs, a known limit for
// very large ones.
func (m *Merger) MergeRanges(rawCIDRs []string) ([]string, error) {
	if m.CoverageThreshold <= 0 || m.CoverageThreshold > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidThreshold, m.CoverageThreshold)
	}

	obs := m.Observer
	if obs == nil {
		obs = NopObserver{}
	}

	if len(rawCIDRs) == 0 {
		return []string{}, nil
	}

	var v4, v6 []Prefix
	for _, raw := range rawCIDRs {
		p, err := ParsePrefix(raw)
		if err != nil {
			return nil, err
		}
		if p.IsIPv4() {
			v4 = append(v4, p)
		} else {
			v6 = append(v6, p)
		}
	}

	// The two family pipelines share no state and can run side by side.
	var g errgroup.Group
	g.Go(func() error {
		v4 = optimizeFamily(FamilyIPv4, v4, m.CoverageThreshold, obs)
		return nil
	})
	g.Go(func() error {
		v6 = optimizeFamily(FamilyIPv6, v6, m.CoverageThreshold, obs)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(v4)+len(v6))
	for _, p := range v4 {
		out = append(out, p.String())
	}
	for _, p := range v6 {
		out = append(out, p.String())
	}
	return out, nil
}

// optimizeFamily runs optimization passes until a pass no longer shrinks
// the working set. Each pass re-sorts its input: a promoted parent can land
// behind earlier output, and the cursor logic needs ascending order.
func optimizeFamily(family Family, prefixes []Prefix, threshold float64, obs Observer) []Prefix {
	if len(prefixes) == 0 {
		return prefixes
	}

	for pass := 1; ; pass++ {
		slices.SortFunc(prefixes, Prefix.compare)
		obs.PassStarted(family, pass, len(prefixes))

		next := optimizePass(prefixes, threshold)
		obs.PassFinished(family, pass, len(next))

		if len(next) == len(prefixes) {
			return next
		}
		prefixes = next
	}
}

// optimizePass makes one left-to-right scan over the sorted working set.
// For each prefix it considers promoting the immediate parent: if the
// strict descendants of the parent present in the full working set cover at
// least threshold of the parent, the parent is emitted and the contiguous
// run of contained prefixes is skipped. Otherwise the prefix is kept unless
// something already emitted contains it.
func optimizePass(sorted []Prefix, threshold float64) []Prefix {
	out := make([]Prefix, 0, len(sorted))

	i := 0
	for i < len(sorted) {
		current := sorted[i]

		// A zero-length prefix covers the whole family; sorted order puts
		// it first, so everything after it is contained.
		if current.Bits() == 0 {
			out = append(out, current)
			break
		}

		parent, err := current.Supernet()
		if err != nil {
			// Unreachable given the guard above. Keep the prefix rather
			// than lose an allowlist entry.
			out = append(out, current)
			i++
			continue
		}

		if meetsCoverage(parent, sorted, threshold) {
			out = append(out, parent)
			for i < len(sorted) && sorted[i].SameOrSubnetOf(parent) {
				i++
			}
			continue
		}

		if !containedInAny(current, out) {
			out = append(out, current)
		}
		i++
	}

	return out
}

// meetsCoverage reports whether the strict descendants of parent present in
// the working set account for at least threshold of parent's address space.
// The parent itself, if literally present, does not count: coverage
// measures how much of the parent is reconstructed from smaller pieces.
// Overlapping or duplicated descendants are counted as often as they
// appear, so the covered total can exceed the parent.
func meetsCoverage(parent Prefix, working []Prefix, threshold float64) bool {
	covered := new(big.Int)
	for _, p := range working {
		if p.StrictSubnetOf(parent) {
			covered.Add(covered, p.AddressCount())
		}
	}
	if covered.Sign() == 0 {
		return false
	}

	// Compare covered >= threshold * parentCount in big.Float space; IPv6
	// counts do not fit a float64 mantissa.
	want := new(big.Float).Mul(
		big.NewFloat(threshold),
		new(big.Float).SetInt(parent.AddressCount()),
	)
	return new(big.Float).SetInt(covered).Cmp(want) >= 0
}

// containedInAny reports whether p is covered by an already kept prefix.
// The non-strict check is what absorbs exact duplicates: p is never itself
// in kept when this runs.
func containedInAny(p Prefix, kept []Prefix) bool {
	for _, k := range kept {
		if p.SameOrSubnetOf(k) {
			return true
		}
	}
	return false
}
