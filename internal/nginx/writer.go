// Package nginx renders the final CIDR ranges as an nginx allowlist
// configuration file.
package nginx

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// FileMode is the permission set of the written allowlist. nginx workers
// only need to read it.
const FileMode = os.FileMode(0o644)

const header = "# Managed by maxmind-geoip-nginx. Manual edits will be overwritten.\n"

// WriteAllowlist writes one "allow <cidr>;" directive per range to path,
// atomically: the file is staged next to its destination and renamed into
// place, so nginx never reloads a half-written allowlist.
func WriteAllowlist(path string, ranges []string) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), "allowlist-*.conf")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmpFile.Name())
	}()

	writer := bufio.NewWriter(tmpFile)
	if _, err := writer.WriteString(header); err != nil {
		tmpFile.Close()
		return fmt.Errorf("write header: %w", err)
	}
	for _, cidr := range ranges {
		if _, err := fmt.Fprintf(writer, "allow %s;\n", cidr); err != nil {
			tmpFile.Close()
			return fmt.Errorf("write directive: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("flush allowlist: %w", err)
	}

	if err := tmpFile.Chmod(FileMode); err != nil {
		tmpFile.Close()
		return fmt.Errorf("set permissions: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("sync allowlist: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpFile.Name(), path); err != nil {
		return fmt.Errorf("replace allowlist: %w", err)
	}

	log.Debug("Allowlist file written", "path", path, "directives", len(ranges))
	return nil
}
