package listing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderListsRegularFilesOnly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("bb"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a <x>.txt"), make([]byte, 2048), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("K=v"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".progressdrop-tmp"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".progressdrop-tmp", "123.part"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	r, err := New(dir)
	require.NoError(t, err)

	files, err := r.Files()
	require.NoError(t, err)
	require.Equal(t, []FileInfo{
		{Name: ".env", Size: "3 B"},
		{Name: "a <x>.txt", Size: "2.00 KB"},
		{Name: "b.txt", Size: "2 B"},
	}, files)

	var out strings.Builder
	require.NoError(t, r.Render(&out))
	page := out.String()
	require.Contains(t, page, `<form id="uploadForm">`)
	require.Contains(t, page, "a &lt;x&gt;.txt")
	require.Contains(t, page, ".env")
	require.NotContains(t, page, ".part")
	require.NotContains(t, page, "progressdrop-tmp")
	require.NotContains(t, page, "nothing uploaded yet")
}

func TestRenderEmptyDirectory(t *testing.T) {
	r, err := New(t.TempDir())
	require.NoError(t, err)
	var out strings.Builder
	require.NoError(t, r.Render(&out))
	require.Contains(t, out.String(), "nothing uploaded yet")
}

func TestRenderMissingDirectory(t *testing.T) {
	r, err := New(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	require.Error(t, r.Render(&strings.Builder{}))
}
