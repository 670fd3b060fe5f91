package netmerge

// Family identifies the address family of a merge pipeline.
type Family string

const (
	FamilyIPv4 Family = "IPv4"
	FamilyIPv6 Family = "IPv6"
)

// Observer receives per-pass diagnostics from the aggregation engine. It is
// purely observational. The IPv4 and IPv6 pipelines run concurrently, so
// implementations must be safe for use from two goroutines.
type Observer interface {
	// PassStarted is called with the size of the working set entering an
	// optimization pass.
	PassStarted(family Family, pass, count int)

	// PassFinished is called with the size of the set surviving the pass.
	PassFinished(family Family, pass, count int)
}

// NopObserver discards all diagnostics.
type NopObserver struct{}

func (NopObserver) PassStarted(Family, int, int)  {}
func (NopObserver) PassFinished(Family, int, int) {}
