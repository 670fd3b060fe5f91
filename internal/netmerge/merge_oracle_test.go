package netmerge

import (
	"net"
	"net/netip"
	"slices"
	"testing"

	"github.com/gaissmai/bart"
	"github.com/thcyron/cidrmerge"
)

// Merging may widen the allowed address space (a promoted parent covers
// more than its children) but must never shrink it: every input range has
// to stay reachable through some output range.
func TestMergedOutputStillCoversInput(t *testing.T) {
	input := []string{
		"10.0.0.0/25",
		"10.0.0.128/26",
		"10.0.1.0/24",
		"172.16.0.0/16",
		"172.16.99.0/24",
		"192.0.2.64/26",
		"198.51.100.0/24",
		"2001:db8::/34",
		"2001:db8:4000::/34",
		"2001:db8:ffff::/48",
		"2a00:1450::/32",
	}

	for _, threshold := range []float64{0.5, 0.9, 1.0} {
		out := mergeWith(t, threshold, input)

		tbl := new(bart.Table[struct{}])
		for _, cidr := range out {
			tbl.Insert(netip.MustParsePrefix(cidr), struct{}{})
		}

		for _, cidr := range input {
			pfx := netip.MustParsePrefix(cidr).Masked()
			if _, ok := tbl.LookupPrefix(pfx); !ok {
				t.Fatalf("threshold %v: input %s is no longer covered by output %v", threshold, cidr, out)
			}
		}
	}
}

// At threshold 1.0 a parent is only emitted when its address space is fully
// reconstructed, so the merge is exact and must agree with an exact-merge
// implementation.
func TestFullCoverageMergeMatchesCidrmerge(t *testing.T) {
	input := []string{
		"198.51.100.0/24",
		"198.51.101.0/24",
		"198.51.102.0/24",
		"198.51.103.0/24",
		"203.0.113.128/25",
		"203.0.113.0/25",
		"192.0.2.0/24",
		"192.0.2.0/26",
	}

	got := mergeWith(t, 1.0, input)
	slices.Sort(got)

	nets := make([]*net.IPNet, 0, len(input))
	for _, cidr := range input {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			t.Fatalf("ParseCIDR(%q) returned error: %v", cidr, err)
		}
		nets = append(nets, n)
	}

	want := make([]string, 0, len(nets))
	for _, n := range cidrmerge.Merge(nets) {
		want = append(want, n.String())
	}
	slices.Sort(want)

	if !slices.Equal(got, want) {
		t.Fatalf("full-coverage merge returned %v, cidrmerge returned %v", got, want)
	}
}
