package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestSyncTree_FirstSyncCopiesEverything(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	writeFile(t, filepath.Join(src, "a.txt"), "hello")
	writeFile(t, filepath.Join(src, "b.txt"), "world")
	writeFile(t, filepath.Join(src, "subdir", "c.txt"), "nested")

	stats, err := SyncTree(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.FilesCopied)
	assert.EqualValues(t, len("hello")+len("world")+len("nested"), stats.BytesCopied)

	assert.Equal(t, "hello", readFile(t, filepath.Join(dst, "a.txt")))
	assert.Equal(t, "world", readFile(t, filepath.Join(dst, "b.txt")))
	assert.Equal(t, "nested", readFile(t, filepath.Join(dst, "subdir", "c.txt")))

	// Removing subdir from the source removes it from the destination
	require.NoError(t, os.RemoveAll(filepath.Join(src, "subdir")))
	stats, err = SyncTree(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, 0, stats.FilesCopied)

	_, err = os.Stat(filepath.Join(dst, "subdir"))
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, "hello", readFile(t, filepath.Join(dst, "a.txt")))
	assert.Equal(t, "world", readFile(t, filepath.Join(dst, "b.txt")))
}

func TestSyncTree_SkipsUnchangedFiles(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	writeFile(t, filepath.Join(src, "stable.txt"), "same")

	_, err := SyncTree(src, dst)
	require.NoError(t, err)

	srcInfo, err := os.Stat(filepath.Join(src, "stable.txt"))
	require.NoError(t, err)
	dstInfo, err := os.Stat(filepath.Join(dst, "stable.txt"))
	require.NoError(t, err)
	assert.True(t, srcInfo.ModTime().Equal(dstInfo.ModTime()), "copy should keep the source mtime")

	stats, err := SyncTree(src, dst)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{}, stats)

	after, err := os.Stat(filepath.Join(dst, "stable.txt"))
	require.NoError(t, err)
	assert.True(t, dstInfo.ModTime().Equal(after.ModTime()))
}

func TestSyncTree_CopiesModifiedFiles(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	path := filepath.Join(src, "file.txt")
	writeFile(t, path, "original")

	_, err := SyncTree(src, dst)
	require.NoError(t, err)

	// same size, newer mtime
	writeFile(t, path, "modified")
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	stats, err := SyncTree(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesCopied)
	assert.Equal(t, "modified", readFile(t, filepath.Join(dst, "file.txt")))
}

func TestSyncTree_DeletesRemovedFiles(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	writeFile(t, filepath.Join(src, "keep.txt"), "keep")
	writeFile(t, filepath.Join(src, "gone.txt"), "gone")

	_, err := SyncTree(src, dst)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dst, "gone.txt"))

	require.NoError(t, os.Remove(filepath.Join(src, "gone.txt")))
	_, err = SyncTree(src, dst)
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(dst, "gone.txt"))
	assert.FileExists(t, filepath.Join(dst, "keep.txt"))
}

func TestSyncTree_HandlesTypeChanges(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	writeFile(t, filepath.Join(src, "thing"), "a file")
	writeFile(t, filepath.Join(src, "other", "inner.txt"), "inside")

	_, err := SyncTree(src, dst)
	require.NoError(t, err)

	// file -> directory and directory -> file
	require.NoError(t, os.Remove(filepath.Join(src, "thing")))
	writeFile(t, filepath.Join(src, "thing", "child.txt"), "child")
	require.NoError(t, os.RemoveAll(filepath.Join(src, "other")))
	writeFile(t, filepath.Join(src, "other"), "now a file")

	_, err = SyncTree(src, dst)
	require.NoError(t, err)

	assert.Equal(t, "child", readFile(t, filepath.Join(dst, "thing", "child.txt")))
	assert.Equal(t, "now a file", readFile(t, filepath.Join(dst, "other")))
}

func TestSyncTree_Symlinks(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	writeFile(t, filepath.Join(src, "target.txt"), "data")
	require.NoError(t, os.Symlink("target.txt", filepath.Join(src, "link.txt")))

	_, err := SyncTree(src, dst)
	require.NoError(t, err)

	target, err := os.Readlink(filepath.Join(dst, "link.txt"))
	require.NoError(t, err)
	assert.Equal(t, "target.txt", target)

	stats, err := SyncTree(src, dst)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FilesCopied)
}

func TestSyncTree_SourceMustBeDirectory(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "plain.txt")
	writeFile(t, file, "x")

	_, err := SyncTree(file, filepath.Join(root, "dst"))
	assert.Error(t, err)

	_, err = SyncTree(filepath.Join(root, "missing"), filepath.Join(root, "dst"))
	assert.Error(t, err)
}

func TestCopyPath(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "env", "report.md"), "# report")
	writeFile(t, filepath.Join(root, "env", "plots", "a.png"), "png")

	stats, err := CopyPath(filepath.Join(root, "env", "report.md"), filepath.Join(root, "out", "report.md"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesCopied)
	assert.Equal(t, "# report", readFile(t, filepath.Join(root, "out", "report.md")))

	stats, err = CopyPath(filepath.Join(root, "env", "plots"), filepath.Join(root, "out", "plots"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesCopied)
	assert.Equal(t, "png", readFile(t, filepath.Join(root, "out", "plots", "a.png")))

	_, err = CopyPath(filepath.Join(root, "env", "missing"), filepath.Join(root, "out", "missing"))
	assert.Error(t, err)
}
