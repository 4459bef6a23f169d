package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/multierr"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

const (
	gooseUp   = "-- +goose Up"
	gooseDown = "-- +goose Down"
)

// ValidateDir checks migration filenames, version uniqueness, and that each
// file declares an Up section followed by a Down section. Every problem in
// the directory is reported, not just the first.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}

	var errs error
	seen := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}

		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			errs = multierr.Append(errs, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", name))
			continue
		}
		if prev, ok := seen[m[1]]; ok {
			errs = multierr.Append(errs, fmt.Errorf("duplicate migration version %s in %q and %q", m[1], prev, name))
		}
		seen[m[1]] = name

		errs = multierr.Append(errs, validateSections(filepath.Join(dir, name)))
	}
	return errs
}

func validateSections(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file %q: %w", path, err)
	}
	txt := string(b)
	name := filepath.Base(path)

	up := strings.Index(txt, gooseUp)
	down := strings.Index(txt, gooseDown)
	switch {
	case up < 0:
		return fmt.Errorf("migration %q missing %q", name, gooseUp)
	case down < 0:
		return fmt.Errorf("migration %q missing %q", name, gooseDown)
	case down < up:
		return fmt.Errorf("migration %q declares %q before %q", name, gooseDown, gooseUp)
	}
	return nil
}
