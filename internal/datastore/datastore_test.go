package datastore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CreatesDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	d, err := New(root)
	require.NoError(t, err)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, root, d.Root())
}

func TestCommit_WritesAndReplaces(t *testing.T) {
	d, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, d.Commit("carriers", []byte("old\n")))
	assert.True(t, d.Exists("carriers"))

	require.NoError(t, d.Commit("carriers", []byte("new\n")))

	data, err := os.ReadFile(d.Path("carriers"))
	require.NoError(t, err)
	assert.Equal(t, "new\n", string(data))
}

func TestCommit_LeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	d, err := New(root)
	require.NoError(t, err)

	require.NoError(t, d.Commit("a", []byte("x\n")))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.csv", entries[0].Name())
}

func TestExists_FalseForMissing(t *testing.T) {
	d, err := New(t.TempDir())
	require.NoError(t, err)
	assert.False(t, d.Exists("nope"))
}

func TestList_SortedCSVOnly(t *testing.T) {
	root := t.TempDir()
	d, err := New(root)
	require.NoError(t, err)

	require.NoError(t, d.Commit("zeta", []byte("z\n")))
	require.NoError(t, d.Commit("alpha", []byte("a\n")))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignore me"), 0o644))

	files, err := d.List()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "alpha.csv", files[0].Name)
	assert.Equal(t, "zeta.csv", files[1].Name)
	assert.Equal(t, int64(2), files[0].Size)
	assert.False(t, files[0].Modified.IsZero())
}
