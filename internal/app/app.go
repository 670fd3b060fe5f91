// Package app wires flags, settings, the GeoLite plumbing, the merge
// engine, and the allowlist writer into the command-line tool.
package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"github.com/kism/maxmind-geoip-nginx/internal/config"
	"github.com/kism/maxmind-geoip-nginx/internal/geolite"
	"github.com/kism/maxmind-geoip-nginx/internal/netmerge"
	"github.com/kism/maxmind-geoip-nginx/internal/nginx"
	"github.com/kism/maxmind-geoip-nginx/internal/support"
)

const downloadTimeout = 2 * time.Minute

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	settingsFlag := flag.String("settings", config.DefaultSettingsPath, "Path to the settings file")
	outputFlag := flag.String("output", "", "Path to the nginx conf file (overrides settings)")
	countriesFlag := flag.String("countries", "", "Comma-separated 2-letter country codes to allow")
	asnsFlag := flag.String("asns", "", "Comma-separated AS numbers to allow")
	thresholdFlag := flag.Float64("threshold", 0, "Coverage threshold in (0,1] (overrides settings)")
	noMergeFlag := flag.Bool("no-merge", false, "Write the ranges without aggregating them")
	checkIPFlag := flag.String("check-ip", "", "Print the attribution of one IP address and exit")
	verboseFlag := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *verboseFlag {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.Load(*settingsFlag)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	log.Debug("MaxMind account",
		"account_id", cfg.MaxMind.AccountID,
		"license_key", support.MaskSecret(cfg.MaxMind.LicenseKey))

	updater := &geolite.Updater{
		AccountID:   cfg.MaxMind.AccountID,
		LicenseKey:  cfg.MaxMind.LicenseKey,
		DatabaseDir: cfg.MaxMind.DatabaseDir,
		MaxAge:      cfg.MaxMind.MaxAge.Duration(),
		Client:      &http.Client{Timeout: downloadTimeout},
	}

	if err := updater.EnsureDatabases(context.Background()); err != nil {
		return fmt.Errorf("ensure geolite databases: %w", err)
	}

	source := &geolite.RangeSource{
		CountryDBPath: updater.DatabasePath(geolite.CountryFileName),
		ASNDBPath:     updater.DatabasePath(geolite.ASNFileName),
	}

	if *checkIPFlag != "" {
		result, err := source.CheckIP(*checkIPFlag)
		if err != nil {
			return fmt.Errorf("check ip: %w", err)
		}
		log.Info("Attribution",
			"ip", result.IP,
			"country", result.CountryISO,
			"asn", result.ASNumber,
			"organization", result.ASOrganization)
		return nil
	}

	countries := splitList(*countriesFlag)
	asns, err := parseASNList(*asnsFlag)
	if err != nil {
		return err
	}
	if len(countries) == 0 && len(asns) == 0 {
		return errors.New("at least one of -countries or -asns is required")
	}

	ranges, err := collectRanges(source, countries, asns)
	if err != nil {
		return err
	}
	log.Info("Collected ranges", "count", len(ranges))

	if cfg.Merge.Enabled && !*noMergeFlag {
		threshold := cfg.Merge.CoverageThreshold
		if *thresholdFlag != 0 {
			threshold = *thresholdFlag
		}

		merger := &netmerge.Merger{CoverageThreshold: threshold, Observer: passLogger{}}
		merged, err := merger.MergeRanges(ranges)
		if err != nil {
			return fmt.Errorf("merge ranges: %w", err)
		}
		log.Info("Merged ranges", "before", len(ranges), "after", len(merged), "threshold", threshold)
		ranges = merged
	}

	outputPath := cfg.Output.Path
	if *outputFlag != "" {
		outputPath = *outputFlag
	}

	if err := nginx.WriteAllowlist(outputPath, ranges); err != nil {
		return fmt.Errorf("write allowlist: %w", err)
	}
	log.Info("Allowlist written", "path", outputPath, "directives", len(ranges))

	return nil
}

func collectRanges(source *geolite.RangeSource, countries []string, asns []uint) ([]string, error) {
	var ranges []string

	if len(countries) > 0 {
		countryRanges, usages, err := source.CountryRanges(countries)
		if err != nil {
			return nil, fmt.Errorf("collect country ranges: %w", err)
		}
		logASNUsages(usages)
		ranges = append(ranges, countryRanges...)
	}

	if len(asns) > 0 {
		asnRanges, err := source.ASNRanges(asns)
		if err != nil {
			return nil, fmt.Errorf("collect asn ranges: %w", err)
		}
		ranges = append(ranges, asnRanges...)
	}

	return ranges, nil
}

func logASNUsages(usages []geolite.ASNUsage) {
	if len(usages) == 0 {
		return
	}
	log.Info("ASNs found in selection, sorted by address count")
	for _, usage := range usages {
		log.Info(fmt.Sprintf("  AS%d - %s", usage.Number, usage.Organization),
			"country", usage.Country,
			"ranges", usage.RangeCount,
			"addresses", usage.AddressCount.String())
	}
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseASNList(raw string) ([]uint, error) {
	var out []uint
	for _, item := range splitList(raw) {
		item = strings.TrimPrefix(strings.ToUpper(item), "AS")
		n, err := strconv.ParseUint(item, 10, 32)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("invalid asn %q", item)
		}
		out = append(out, uint(n))
	}
	return out, nil
}

// passLogger forwards merge-engine diagnostics to the global logger.
type passLogger struct{}

func (passLogger) PassStarted(family netmerge.Family, pass, count int) {
	log.Debug("Optimization pass started", "family", family, "pass", pass, "prefixes", count)
}

func (passLogger) PassFinished(family netmerge.Family, pass, count int) {
	log.Debug("Optimization pass finished", "family", family, "pass", pass, "prefixes", count)
}
