//go:build linux

package engine

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DropFileCache advises the kernel to drop cached pages for the given
// files. Training workloads stream large videos once; without this the
// page cache fills with data that will never be read again. Fails on
// the first file that cannot be advised.
func (e *Engine) DropFileCache(paths []string) error {
	for _, path := range paths {
		if err := dropFileCache(path); err != nil {
			return fmt.Errorf("dropping page cache for %s: %w", path, err)
		}
		e.logger.Debug("dropped page cache", "file", path)
	}
	return nil
}

func dropFileCache(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_DONTNEED)
}
