//go:build !linux

package engine

import "errors"

// DropFileCache is a no-op outside Linux: there is no portable
// posix_fadvise equivalent worth pretending about.
func (e *Engine) DropFileCache(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	return errors.New("engine: page cache drop is only supported on linux")
}
