package geolite

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func buildArchive(t *testing.T, memberName string, content []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	header := &tar.Header{
		Name:     memberName,
		Mode:     0o644,
		Size:     int64(len(content)),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(header); err != nil {
		t.Fatalf("write tar header: %v", err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatalf("write tar content: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar writer: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip writer: %v", err)
	}

	return buf.Bytes()
}

// newDownloadServer serves MaxMind-shaped archives and counts requests.
func newDownloadServer(t *testing.T, requests *atomic.Int64) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		switch {
		case strings.Contains(r.URL.Path, "GeoLite2-Country"):
			_, _ = w.Write(buildArchive(t, "GeoLite2-Country_20260801/"+CountryFileName, []byte("country-db")))
		case strings.Contains(r.URL.Path, "GeoLite2-ASN"):
			_, _ = w.Write(buildArchive(t, "GeoLite2-ASN_20260801/"+ASNFileName, []byte("asn-db")))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestUpdater(dir, baseURL string) *Updater {
	return &Updater{
		AccountID:   "123456",
		LicenseKey:  "test-license-key",
		DatabaseDir: dir,
		MaxAge:      DefaultMaxAge,
		Client:      &http.Client{Timeout: 5 * time.Second},
		BaseURL:     baseURL,
	}
}

func TestEnsureDatabasesDownloadsAndExtracts(t *testing.T) {
	var requests atomic.Int64
	server := newDownloadServer(t, &requests)
	defer server.Close()

	dir := t.TempDir()
	updater := newTestUpdater(dir, server.URL)

	if err := updater.EnsureDatabases(context.Background()); err != nil {
		t.Fatalf("EnsureDatabases returned error: %v", err)
	}

	if got := requests.Load(); got != 2 {
		t.Fatalf("server saw %d requests, want 2", got)
	}

	for file, want := range map[string]string{CountryFileName: "country-db", ASNFileName: "asn-db"} {
		data, err := os.ReadFile(filepath.Join(dir, file))
		if err != nil {
			t.Fatalf("read %s: %v", file, err)
		}
		if string(data) != want {
			t.Fatalf("%s contains %q, want %q", file, data, want)
		}
	}
}

func TestEnsureDatabasesSkipsFreshDatabases(t *testing.T) {
	var requests atomic.Int64
	server := newDownloadServer(t, &requests)
	defer server.Close()

	dir := t.TempDir()
	for _, file := range []string{CountryFileName, ASNFileName} {
		if err := os.WriteFile(filepath.Join(dir, file), []byte("cached"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", file, err)
		}
	}

	updater := newTestUpdater(dir, server.URL)
	if err := updater.EnsureDatabases(context.Background()); err != nil {
		t.Fatalf("EnsureDatabases returned error: %v", err)
	}

	if got := requests.Load(); got != 0 {
		t.Fatalf("server saw %d requests for fresh databases, want 0", got)
	}
}

func TestEnsureDatabasesReplacesStaleDatabases(t *testing.T) {
	var requests atomic.Int64
	server := newDownloadServer(t, &requests)
	defer server.Close()

	dir := t.TempDir()
	stale := time.Now().Add(-30 * 24 * time.Hour)
	for _, file := range []string{CountryFileName, ASNFileName} {
		path := filepath.Join(dir, file)
		if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", file, err)
		}
		if err := os.Chtimes(path, stale, stale); err != nil {
			t.Fatalf("age %s: %v", file, err)
		}
	}

	updater := newTestUpdater(dir, server.URL)
	if err := updater.EnsureDatabases(context.Background()); err != nil {
		t.Fatalf("EnsureDatabases returned error: %v", err)
	}

	if got := requests.Load(); got != 2 {
		t.Fatalf("server saw %d requests for stale databases, want 2", got)
	}

	data, err := os.ReadFile(filepath.Join(dir, CountryFileName))
	if err != nil {
		t.Fatalf("read country database: %v", err)
	}
	if string(data) != "country-db" {
		t.Fatalf("stale database was not replaced, contains %q", data)
	}
}

func TestEnsureDatabasesRequiresCredentials(t *testing.T) {
	updater := &Updater{DatabaseDir: t.TempDir()}

	err := updater.EnsureDatabases(context.Background())
	if !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("EnsureDatabases error = %v, want ErrNoCredentials", err)
	}
}

func TestEnsureDatabasesRejectsArchiveWithoutDatabase(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(buildArchive(t, "GeoLite2-Country_20260801/README.txt", []byte("no mmdb here")))
	}))
	defer server.Close()

	updater := newTestUpdater(t.TempDir(), server.URL)
	if err := updater.EnsureDatabases(context.Background()); err == nil {
		t.Fatal("EnsureDatabases succeeded on an archive without an mmdb file")
	}
}
