// Package atomicfile writes files via a temp file and rename so readers
// never observe a partially written artifact.
package atomicfile

import (
	"bufio"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// Write creates path by calling fn with a buffered writer on a temp file in
// the same directory, then renaming it into place. If fn or any step fails,
// the existing file at path is left untouched.
func Write(path string, fn func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "atomicfile: create dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrapf(err, "atomicfile: create temp for %s", path)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = fn(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return eris.Wrapf(err, "atomicfile: flush %s", path)
	}
	if err = tmp.Sync(); err != nil {
		return eris.Wrapf(err, "atomicfile: sync %s", path)
	}
	if err = tmp.Close(); err != nil {
		return eris.Wrapf(err, "atomicfile: close %s", path)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return eris.Wrapf(err, "atomicfile: chmod %s", path)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "atomicfile: rename to %s", path)
	}
	return nil
}
