// Package geolite downloads the MaxMind GeoLite2 databases and extracts
// allowlist CIDR ranges from them.
package geolite

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const (
	defaultBaseURL = "https://download.maxmind.com"
	userAgent      = "maxmind-geoip-nginx/1.0"

	// CountryFileName and ASNFileName are the on-disk database names and
	// the member names inside the MaxMind archives.
	CountryFileName = "GeoLite2-Country.mmdb"
	ASNFileName     = "GeoLite2-ASN.mmdb"

	// DefaultMaxAge is how long a cached database counts as fresh.
	DefaultMaxAge = 7 * 24 * time.Hour
)

// ErrNoCredentials indicates the MaxMind account ID or license key has not
// been configured.
var ErrNoCredentials = errors.New("geolite: maxmind credentials are not configured")

type edition struct {
	id       string
	filename string
}

var editions = []edition{
	{id: "GeoLite2-Country", filename: CountryFileName},
	{id: "GeoLite2-ASN", filename: ASNFileName},
}

// Updater keeps the GeoLite2 databases under DatabaseDir fresh. Databases
// younger than MaxAge are left alone; anything else is re-downloaded with
// HTTP basic auth against the MaxMind account.
type Updater struct {
	AccountID   string
	LicenseKey  string
	DatabaseDir string
	MaxAge      time.Duration
	Client      *http.Client

	// BaseURL overrides the MaxMind endpoint, for tests.
	BaseURL string
}

// DatabasePath returns the on-disk location of one database file.
func (u *Updater) DatabasePath(filename string) string {
	return filepath.Join(u.DatabaseDir, filename)
}

// EnsureDatabases downloads every stale or missing GeoLite2 edition. It is
// a no-op when all cached copies are fresh.
func (u *Updater) EnsureDatabases(ctx context.Context) error {
	if err := os.MkdirAll(u.DatabaseDir, 0o755); err != nil {
		return fmt.Errorf("ensure database dir: %w", err)
	}

	maxAge := u.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	for _, ed := range editions {
		path := u.DatabasePath(ed.filename)
		if info, err := os.Stat(path); err == nil && time.Since(info.ModTime()) < maxAge {
			log.Debug("Database is up to date, skipping download", "path", path)
			continue
		}

		if err := u.downloadEdition(ctx, ed); err != nil {
			return err
		}
		log.Info("Downloaded GeoLite2 database", "edition", ed.id, "path", path)
	}

	return nil
}

func (u *Updater) downloadEdition(ctx context.Context, ed edition) error {
	if strings.TrimSpace(u.AccountID) == "" || strings.TrimSpace(u.LicenseKey) == "" {
		return ErrNoCredentials
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.downloadURL(ed.id), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(u.AccountID, u.LicenseKey)
	req.Header.Set("User-Agent", userAgent)

	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", ed.id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("download %s: unexpected status %d: %s", ed.id, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	gzipReader, err := gzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: open gzip: %w", ed.id, err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: read tar: %w", ed.id, err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if filepath.Base(header.Name) != ed.filename {
			continue
		}

		if err := writeAtomically(u.DatabasePath(ed.filename), tarReader); err != nil {
			return fmt.Errorf("%s: write file: %w", ed.id, err)
		}
		return nil
	}

	return fmt.Errorf("%s: mmdb file not found in archive", ed.id)
}

func (u *Updater) downloadURL(editionID string) string {
	base := u.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return fmt.Sprintf("%s/geoip/databases/%s/download?suffix=tar.gz", base, editionID)
}

func writeAtomically(destPath string, data io.Reader) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), "geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmpFile.Name())
	}()

	if _, err := io.Copy(tmpFile, data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("copy data: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpFile.Name(), destPath); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}

	return nil
}
