package geolite

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// LookupResult is the attribution of a single address.
type LookupResult struct {
	IP             string
	CountryISO     string
	ASNumber       uint
	ASOrganization string
}

// CheckIP resolves the country and ASN attribution of one address, so a
// freshly written allowlist can be spot-checked against a known client.
func (s *RangeSource) CheckIP(ipText string) (LookupResult, error) {
	ip := net.ParseIP(ipText)
	if ip == nil {
		return LookupResult{}, fmt.Errorf("geolite: invalid ip address %q", ipText)
	}

	countryDB, err := geoip2.Open(s.CountryDBPath)
	if err != nil {
		return LookupResult{}, fmt.Errorf("open country database: %w", err)
	}
	defer countryDB.Close()

	asnDB, err := geoip2.Open(s.ASNDBPath)
	if err != nil {
		return LookupResult{}, fmt.Errorf("open asn database: %w", err)
	}
	defer asnDB.Close()

	country, err := countryDB.Country(ip)
	if err != nil {
		return LookupResult{}, fmt.Errorf("lookup country: %w", err)
	}

	asn, err := asnDB.ASN(ip)
	if err != nil {
		return LookupResult{}, fmt.Errorf("lookup asn: %w", err)
	}

	return LookupResult{
		IP:             ipText,
		CountryISO:     country.Country.IsoCode,
		ASNumber:       asn.AutonomousSystemNumber,
		ASOrganization: asn.AutonomousSystemOrganization,
	}, nil
}
