package fsops

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealFS_AtomicWrite(t *testing.T) {
	f := NewRealFS()
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")

	require.NoError(t, f.AtomicWrite(path, []byte("hello"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// Overwrite replaces the content in one step.
	require.NoError(t, f.AtomicWrite(path, []byte("world"), 0644))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRealFS_Rename(t *testing.T) {
	f := NewRealFS()
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "a.txt")
	newPath := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0644))

	require.NoError(t, f.Rename(oldPath, newPath))

	_, err := os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(newPath)
	assert.NoError(t, err)
}

func TestRealFS_WalkDir(t *testing.T) {
	f := NewRealFS()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "c.txt"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), nil, 0644))

	var visited []string
	err := f.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		visited = append(visited, rel)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{".", "a.txt", "sub", filepath.Join("sub", "c.txt")}, visited)
}
