//go:build linux

package wisklog

import (
	"os"
	"strconv"
	"syscall"
)

// OpenDebugLog resolves the WISK_TRACKER_DEBUGLOG / WISK_TRACKER_DEBUGLOG_FD
// contract from spec.md §6: a path creates a new file, an inherited FD
// number is dup'd directly so a parent supervisor can collect every traced
// process's diagnostics on one descriptor without each child racing to open
// the same path.
func OpenDebugLog(path, fdOverride string) (*os.File, error) {
	if fdOverride != `` {
		n, err := strconv.Atoi(fdOverride)
		if err != nil {
			return nil, err
		}
		dup, err := syscall.Dup(n)
		if err != nil {
			return nil, err
		}
		return os.NewFile(uintptr(dup), "wisk-debuglog-fd"), nil
	}
	if path == `` {
		return nil, nil
	}
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
}
