package cache

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// SyncStats summarizes one SyncTree call
type SyncStats struct {
	FilesCopied int   `json:"files_copied"`
	BytesCopied int64 `json:"bytes_copied"`
	Removed     int   `json:"removed"`
}

func (s *SyncStats) add(other SyncStats) {
	s.FilesCopied += other.FilesCopied
	s.BytesCopied += other.BytesCopied
	s.Removed += other.Removed
}

// SyncTree makes dst mirror src. Files are copied only when missing or when
// size or modification time differ, and the copy keeps the source mtime so
// an unchanged tree is skipped on the next call. Entries in dst that are not
// in src are removed. Symlinks are recreated, not followed.
func SyncTree(src, dst string) (SyncStats, error) {
	info, err := os.Stat(src)
	if err != nil {
		return SyncStats{}, fmt.Errorf("failed to stat sync source: %w", err)
	}
	if !info.IsDir() {
		return SyncStats{}, fmt.Errorf("sync source %s is not a directory", src)
	}

	if err := ensureDir(dst, info.Mode().Perm()); err != nil {
		return SyncStats{}, err
	}

	return syncDir(src, dst)
}

func syncDir(src, dst string) (SyncStats, error) {
	var stats SyncStats

	srcEntries, err := os.ReadDir(src)
	if err != nil {
		return stats, fmt.Errorf("failed to read %s: %w", src, err)
	}

	seen := make(map[string]struct{}, len(srcEntries))
	for _, entry := range srcEntries {
		seen[entry.Name()] = struct{}{}
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		srcInfo, err := os.Lstat(srcPath)
		if err != nil {
			if os.IsNotExist(err) {
				// removed while syncing
				continue
			}
			return stats, fmt.Errorf("failed to stat %s: %w", srcPath, err)
		}

		switch {
		case srcInfo.Mode()&fs.ModeSymlink != 0:
			changed, err := syncSymlink(srcPath, dstPath)
			if err != nil {
				return stats, err
			}
			if changed {
				stats.FilesCopied++
			}
		case srcInfo.IsDir():
			if err := ensureDir(dstPath, srcInfo.Mode().Perm()); err != nil {
				return stats, err
			}
			sub, err := syncDir(srcPath, dstPath)
			if err != nil {
				return stats, err
			}
			stats.add(sub)
		case srcInfo.Mode().IsRegular():
			n, copied, err := syncFile(srcPath, dstPath, srcInfo)
			if err != nil {
				return stats, err
			}
			if copied {
				stats.FilesCopied++
				stats.BytesCopied += n
			}
		default:
			// sockets, devices and pipes are not mirrored
		}
	}

	dstEntries, err := os.ReadDir(dst)
	if err != nil {
		return stats, fmt.Errorf("failed to read %s: %w", dst, err)
	}
	for _, entry := range dstEntries {
		if _, ok := seen[entry.Name()]; ok {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dst, entry.Name())); err != nil {
			return stats, fmt.Errorf("failed to remove stale entry: %w", err)
		}
		stats.Removed++
	}

	return stats, nil
}

// ensureDir makes path a directory, replacing a file or symlink in its place
func ensureDir(path string, perm fs.FileMode) error {
	info, err := os.Lstat(path)
	if err == nil && info.IsDir() {
		return nil
	}
	if err == nil {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to replace %s with a directory: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if perm == 0 {
		perm = 0755
	}
	if err := os.MkdirAll(path, perm|0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

func syncFile(src, dst string, srcInfo fs.FileInfo) (int64, bool, error) {
	dstInfo, err := os.Lstat(dst)
	switch {
	case err == nil && dstInfo.Mode().IsRegular():
		if dstInfo.Size() == srcInfo.Size() && dstInfo.ModTime().Equal(srcInfo.ModTime()) {
			return 0, false, nil
		}
	case err == nil:
		// type changed: directory or symlink where a file should be
		if err := os.RemoveAll(dst); err != nil {
			return 0, false, fmt.Errorf("failed to replace %s: %w", dst, err)
		}
	case !os.IsNotExist(err):
		return 0, false, fmt.Errorf("failed to stat %s: %w", dst, err)
	}

	n, err := copyFile(src, dst, srcInfo.Mode().Perm())
	if err != nil {
		return 0, false, err
	}
	if err := os.Chtimes(dst, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return 0, false, fmt.Errorf("failed to preserve mtime on %s: %w", dst, err)
	}
	return n, true, nil
}

// copyFile writes src to a temp file beside dst and renames it into place
func copyFile(src, dst string, perm fs.FileMode) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), ".sync-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file for %s: %w", dst, err)
	}
	tmp := out.Name()

	n, err := io.Copy(out, in)
	if err == nil {
		err = out.Chmod(perm | 0600)
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to copy %s: %w", src, err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to move %s into place: %w", dst, err)
	}
	return n, nil
}

func syncSymlink(src, dst string) (bool, error) {
	target, err := os.Readlink(src)
	if err != nil {
		return false, fmt.Errorf("failed to read link %s: %w", src, err)
	}

	if info, err := os.Lstat(dst); err == nil {
		if info.Mode()&fs.ModeSymlink != 0 {
			if current, err := os.Readlink(dst); err == nil && current == target {
				return false, nil
			}
		}
		if err := os.RemoveAll(dst); err != nil {
			return false, fmt.Errorf("failed to replace %s: %w", dst, err)
		}
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat %s: %w", dst, err)
	}

	if err := os.Symlink(target, dst); err != nil {
		return false, fmt.Errorf("failed to create link %s: %w", dst, err)
	}
	return true, nil
}

// CopyPath copies a single file or directory tree from src to dst, creating
// parent directories. Directories are mirrored with SyncTree.
func CopyPath(src, dst string) (SyncStats, error) {
	info, err := os.Lstat(src)
	if err != nil {
		return SyncStats{}, fmt.Errorf("failed to stat %s: %w", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return SyncStats{}, fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}

	switch {
	case info.IsDir():
		return SyncTree(src, dst)
	case info.Mode()&fs.ModeSymlink != 0:
		changed, err := syncSymlink(src, dst)
		if err != nil || !changed {
			return SyncStats{}, err
		}
		return SyncStats{FilesCopied: 1}, nil
	case info.Mode().IsRegular():
		n, copied, err := syncFile(src, dst, info)
		if err != nil || !copied {
			return SyncStats{}, err
		}
		return SyncStats{FilesCopied: 1, BytesCopied: n}, nil
	default:
		return SyncStats{}, fmt.Errorf("cannot copy %s: unsupported file type", src)
	}
}
