package interpose

import "strings"

// Standard POSIX open(2) access-mode and creation flags, duplicated here
// (rather than imported from golang.org/x/sys/unix) so this package stays
// buildable on any GOOS for unit testing; cmd/libwisktrack is the only
// Linux-only half of the interposer.
const (
	oAccmode = 0x3
	oWronly  = 0x1
	oRdwr    = 0x2
	oCreat   = 0x40
	oTrunc   = 0x200
)

// ClassifyOpenFlags reports whether an open(2)/openat(2) call expresses
// write intent: O_WRONLY/O_RDWR, or O_CREAT/O_TRUNC on an O_RDONLY open
// (spec.md §4.1: "File open with write intent, or creat/truncating open
// -> WRITES").
func ClassifyOpenFlags(flags int) (write bool) {
	switch flags & oAccmode {
	case oWronly, oRdwr:
		return true
	}
	return flags&oCreat != 0 || flags&oTrunc != 0
}

// ClassifyFopenMode reports whether an fopen(3)/freopen(3) mode string
// expresses write intent. Unlike open(2)'s integer flags, stdio modes are
// a leading letter ("r", "w", "a", with an optional "b"/"x" and an
// optional "+" making the stream bidirectional) -- an "r" mode without a
// "+" ("r", "rb", "rx", ...) classifies as a read; everything else (w/a,
// or any "+")
// can create or truncate the file, so it classifies as a write (spec.md
// §4.1: "fopen variants" alongside open/openat for READS, "truncating
// open" for WRITES).
func ClassifyFopenMode(mode string) (write bool) {
	if mode == `` {
		return false
	}
	switch mode[0] {
	case 'w', 'a':
		return true
	}
	return strings.ContainsRune(mode, '+')
}
