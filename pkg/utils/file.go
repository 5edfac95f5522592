package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// TempPattern is the name pattern of in-flight atomic writes; readers ignore such files.
const TempPattern = ".tmp-*"

// WriteFileAtomic replaces path with data so readers see either the old or the new
// content. Data is written to a temp file in the same directory, synced, renamed over
// path and the directory is synced. beforeRename, when set, runs just before the rename
// and aborts the write if it returns an error.
func WriteFileAtomic(path string, data []byte, perm os.FileMode, beforeRename func(tmp string) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+TempPattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpName := tmp.Name()

	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("write temp file: %w", err)
	}

	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("sync temp file: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err = os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if beforeRename != nil {
		if err = beforeRename(tmpName); err != nil {
			return err
		}
	}

	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer d.Close()

	// Some filesystems reject fsync on directories; the rename already happened.
	_ = d.Sync()

	return nil
}
