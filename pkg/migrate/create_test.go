package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestCreateSQLMigrationRefusesSameVersion(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)

	path, err := createSQLMigration(dir, "add_gift_wrap", at)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20260302100000_add_gift_wrap.sql"), path)

	_, err = createSQLMigration(dir, "Add Gift Wrap", at)
	assert.ErrorContains(t, err, "already exists")
}

func TestCreateSQLMigrationRejectsLongNames(t *testing.T) {
	_, err := createSQLMigration(t.TempDir(), strings.Repeat("x", maxMigrationNameLen+1), time.Now())
	assert.ErrorContains(t, err, "longer than")

	_, err = createSQLMigration(t.TempDir(), " !! ", time.Now())
	assert.ErrorContains(t, err, "empty sanitized filename")
}

func TestValidateDirReportsEveryProblem(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"001_bad.sql":                  "-- +goose Up\n-- +goose Down\n",
		"20260101000000_no_down.sql":   "-- +goose Up\nSELECT 1;\n",
		"20260102000000_reversed.sql":  "-- +goose Down\n-- +goose Up\n",
		"20260103000000_fine.sql":      "-- +goose Up\n-- +goose Down\n",
		"20260103000000_clashing.sql":  "-- +goose Up\n-- +goose Down\n",
		"20260104000000_notes.txt.bak": "ignored",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}

	err := ValidateDir(dir)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 4)
}
