package mountmgr

import "golang.org/x/sys/unix"

func nativeSupported() bool { return true }

// dirWritable checks write access the way mount point validation needs
// it: against the process's real privileges, without creating anything.
func dirWritable(path string) bool {
	return unix.Access(path, unix.W_OK) == nil
}
