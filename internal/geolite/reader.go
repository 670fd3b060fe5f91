package geolite

import (
	"fmt"
	"math/big"
	"net"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/oschwald/maxminddb-golang"
)

const countryCodeLength = 2

// RangeSource extracts CIDR ranges from the GeoLite2 databases on disk.
type RangeSource struct {
	CountryDBPath string
	ASNDBPath     string
}

type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

type asnRecord struct {
	Number       uint   `maxminddb:"autonomous_system_number"`
	Organization string `maxminddb:"autonomous_system_organization"`
}

// ASNUsage summarizes how much of a country selection is announced by a
// single autonomous system.
type ASNUsage struct {
	Country      string
	Number       uint
	Organization string
	RangeCount   int
	AddressCount *big.Int
}

// CountryRanges returns every network attributed to one of the given
// 2-letter ISO country codes, plus a per-ASN usage summary of the selection
// sorted by address count descending.
func (s *RangeSource) CountryRanges(countryCodes []string) ([]string, []ASNUsage, error) {
	codes := normalizeCountryCodes(countryCodes)

	countryDB, err := maxminddb.Open(s.CountryDBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open country database: %w", err)
	}
	defer countryDB.Close()

	asnDB, err := maxminddb.Open(s.ASNDBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open asn database: %w", err)
	}
	defer asnDB.Close()

	usages := make(map[string]*ASNUsage)
	var ranges []string

	networks := countryDB.Networks(maxminddb.SkipAliasedNetworks)
	for networks.Next() {
		var record countryRecord
		network, err := networks.Network(&record)
		if err != nil {
			return nil, nil, fmt.Errorf("read country network: %w", err)
		}

		iso := record.Country.ISOCode
		if iso == "" || !codes[iso] {
			continue
		}

		ranges = append(ranges, network.String())
		accumulateUsage(usages, asnDB, network, iso)
	}
	if err := networks.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate country database: %w", err)
	}

	return ranges, sortUsages(usages), nil
}

// ASNRanges returns every network announced by one of the given autonomous
// system numbers.
func (s *RangeSource) ASNRanges(asnNumbers []uint) ([]string, error) {
	wanted := make(map[uint]bool, len(asnNumbers))
	for _, n := range asnNumbers {
		wanted[n] = true
	}

	asnDB, err := maxminddb.Open(s.ASNDBPath)
	if err != nil {
		return nil, fmt.Errorf("open asn database: %w", err)
	}
	defer asnDB.Close()

	var ranges []string
	networks := asnDB.Networks(maxminddb.SkipAliasedNetworks)
	for networks.Next() {
		var record asnRecord
		network, err := networks.Network(&record)
		if err != nil {
			return nil, fmt.Errorf("read asn network: %w", err)
		}
		if record.Number != 0 && wanted[record.Number] {
			ranges = append(ranges, network.String())
		}
	}
	if err := networks.Err(); err != nil {
		return nil, fmt.Errorf("iterate asn database: %w", err)
	}

	return ranges, nil
}

func accumulateUsage(usages map[string]*ASNUsage, asnDB *maxminddb.Reader, network *net.IPNet, iso string) {
	var record asnRecord
	if err := asnDB.Lookup(network.IP, &record); err != nil || record.Number == 0 {
		return
	}

	key := fmt.Sprintf("AS%d - %s", record.Number, record.Organization)
	usage, ok := usages[key]
	if !ok {
		usage = &ASNUsage{
			Country:      iso,
			Number:       record.Number,
			Organization: record.Organization,
			AddressCount: new(big.Int),
		}
		usages[key] = usage
	}
	usage.RangeCount++
	usage.AddressCount.Add(usage.AddressCount, networkAddressCount(network))
}

func sortUsages(usages map[string]*ASNUsage) []ASNUsage {
	out := make([]ASNUsage, 0, len(usages))
	for _, usage := range usages {
		out = append(out, *usage)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AddressCount.Cmp(out[j].AddressCount) > 0
	})
	return out
}

// normalizeCountryCodes uppercases the codes and returns them as a set.
// Codes of the wrong length are kept but warned about, matching the
// permissive CLI behavior: they simply never match anything.
func normalizeCountryCodes(countryCodes []string) map[string]bool {
	codes := make(map[string]bool, len(countryCodes))
	for _, code := range countryCodes {
		if len(code) != countryCodeLength {
			log.Warn("Invalid country code, must be a 2-letter ISO code", "code", code)
		}
		codes[strings.ToUpper(code)] = true
	}
	return codes
}

// networkAddressCount returns the number of addresses in a network,
// 2^(bits - prefix length). IPv6 counts require a big integer.
func networkAddressCount(network *net.IPNet) *big.Int {
	ones, bits := network.Mask.Size()
	return new(big.Int).Lsh(big.NewInt(1), uint(bits-ones))
}
