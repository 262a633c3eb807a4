package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFileSystem(t *testing.T) {
	m := NewMemoryFileSystem()

	err := m.WriteFile("out/a.json", []byte("{}"), 0o644)
	assert.True(t, errors.Is(err, fs.ErrNotExist), "parent must exist")

	require.NoError(t, m.MkdirAll("out/maps", 0o755))
	require.NoError(t, m.WriteFile("out/a.json", []byte("{}"), 0o644))

	w, err := m.Create(filepath.Join("out", "maps", "b.png"))
	require.NoError(t, err)
	_, err = w.Write([]byte("png"))
	require.NoError(t, err)

	_, err = m.ReadFile("out/maps/b.png")
	assert.Error(t, err, "not visible before close")
	require.NoError(t, w.Close())

	got, err := m.ReadFile("out/maps/./b.png")
	require.NoError(t, err)
	assert.Equal(t, "png", string(got))
	assert.Equal(t, []string{"out/a.json", "out/maps/b.png"}, m.Files())

	require.NoError(t, m.WriteFile("top.txt", nil, 0o644))
}

func TestOSFileSystem(t *testing.T) {
	var fsys FileSystem = OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "x", "y")
	require.NoError(t, fsys.MkdirAll(dir, 0o755))

	w, err := fsys.Create(filepath.Join(dir, "f"))
	require.NoError(t, err)
	_, err = w.Write([]byte("hi"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := fsys.ReadFile(filepath.Join(dir, "f"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(got))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "unknown"},
		{"morning ride", "morning_ride"},
		{"../../etc/passwd", "etc_passwd"},
		{"Köprü / 2025", "K_pr_2025"},
		{"a  b", "a_b"},
		{"___", "unknown"},
		{"route-1.v2", "route-1.v2"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), tt.in)
	}
}
