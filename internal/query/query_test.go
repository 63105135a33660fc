package query

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goldFixture = "movie_key,title,year,total_box_office_gross_usd\n" +
	"k1,The Matrix,1999,463517383\n" +
	"k2,Heat,1995,187436818\n" +
	"k3,The Matrix Reloaded,2003,738576929\n"

func writeGold(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func loadFixture(t *testing.T) *Dataset {
	t.Helper()
	path := writeGold(t, t.TempDir(), "movie_metrics_final_20240101T000000Z.csv", goldFixture)
	ds, err := Load(path)
	require.NoError(t, err)
	return ds
}

func TestFindLatestGold(t *testing.T) {
	dir := t.TempDir()

	_, err := FindLatestGold(dir)
	assert.ErrorIs(t, err, ErrNoGold)

	old := writeGold(t, dir, "movie_metrics_final_20240101T000000Z.csv", goldFixture)
	want := writeGold(t, dir, "movie_metrics_final_20240201T000000Z.csv", goldFixture)

	// Resolution is by modification time, not name.
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	got, err := FindLatestGold(dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFindLatestGold_FallbackPatterns(t *testing.T) {
	dir := t.TempDir()
	want := writeGold(t, dir, "export.csv", goldFixture)

	got, err := FindLatestGold(dir)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoad_NormalizesTitles(t *testing.T) {
	ds := loadFixture(t)
	require.Len(t, ds.Rows, 3)
	assert.Equal(t, "the matrix", ds.Rows[0]["title"])
	assert.Equal(t, []string{"movie_key", "title", "year", "total_box_office_gross_usd"}, ds.Columns)
}

func TestByKey(t *testing.T) {
	ds := loadFixture(t)

	rows := ds.ByKey("k2")
	require.Len(t, rows, 1)
	assert.Equal(t, "heat", rows[0]["title"])

	assert.Empty(t, ds.ByKey("missing"))
}

func TestByTitleYear(t *testing.T) {
	ds := loadFixture(t)

	rows := ds.ByTitleYear("  The MATRIX ", 1999)
	require.Len(t, rows, 1)
	assert.Equal(t, "k1", rows[0]["movie_key"])

	assert.Empty(t, ds.ByTitleYear("The Matrix", 2003), "exact title never matches the sequel")
}

func TestFindTitle(t *testing.T) {
	ds := loadFixture(t)

	rows := ds.FindTitle("matrix")
	require.Len(t, rows, 2)
	assert.Equal(t, "k1", rows[0]["movie_key"])
	assert.Equal(t, "k3", rows[1]["movie_key"])

	assert.Empty(t, ds.FindTitle("alien"))
}

func TestHead(t *testing.T) {
	ds := loadFixture(t)

	assert.Len(t, ds.Head(2), 2)
	assert.Len(t, ds.Head(10), 3)
	assert.Empty(t, ds.Head(0))
}
