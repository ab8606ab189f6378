// File: internal/credfile/credfile.go
// Brief: End-of-run credential record file.

// Package credfile writes the generated credentials to a human-readable
// file exactly once, at the end of a run. The file is sensitive and is
// created with owner-only permissions.
package credfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/example/stackup/internal/vars"
)

// DefaultPath is the credential file location relative to the working
// directory.
const DefaultPath = "stackup-credentials.txt"

// Write renders the credential records and writes them to path with
// 0600 permissions, replacing any previous file. Re-running the full
// flow regenerates all secrets; the old file is intentionally replaced
// rather than merged.
func Write(path string, records []vars.CredentialRecord, now time.Time) error {
	if path == "" {
		path = DefaultPath
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# stackup credentials (generated %s)\n", now.UTC().Format(time.RFC3339))
	b.WriteString("# Keep this file private. Re-running `stackup install` regenerates every value.\n\n")
	service := ""
	for _, rec := range records {
		if rec.Service != service {
			if service != "" {
				b.WriteString("\n")
			}
			service = rec.Service
			fmt.Fprintf(&b, "[%s]\n", service)
		}
		fmt.Fprintf(&b, "%s=%s\n", rec.Key, rec.Value)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create credential dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	return nil
}
