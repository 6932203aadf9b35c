//go:build !linux

package mountmgr

import (
	"os"
	"path/filepath"
)

func nativeSupported() bool { return false }

// dirWritable probes write access by creating and removing a scratch
// file; there is no portable access(2) equivalent.
func dirWritable(path string) bool {
	f, err := os.CreateTemp(path, ".custodian-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(filepath.Clean(name))
	return true
}
