package walk

import (
	"fmt"
	"io"
	"os"
	"path"
)

// CopyFile copies e to the same relative path inside dst, creating parent
// directories. File mode and modification time are preserved.
func CopyFile(dst *os.Root, e Entry) error {
	info, err := e.Stat()
	if err != nil {
		return err
	}
	rel := e.Rel()
	if dir := path.Dir(rel); dir != "." {
		if err := dst.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	src, err := e.Open()
	if err != nil {
		return err
	}
	defer func() {
		_ = src.Close()
	}()

	f, err := dst.OpenFile(rel, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("creating %s: %w", rel, err)
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		return fmt.Errorf("copying %s: %w", rel, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", rel, err)
	}
	if err := dst.Chmod(rel, info.Mode().Perm()); err != nil {
		return err
	}
	return dst.Chtimes(rel, info.ModTime(), info.ModTime())
}
