// Package wiskversion carries the supervisor and interposer build version,
// printed by `wisk --version`.
package wiskversion

import (
	"fmt"
	"io"
	"time"
)

const (
	Major int = 0
	Minor int = 1
	Point int = 0
)

// BuildDate is overwritten at release-build time via -ldflags; it defaults
// to the epoch so a dev build is obviously unreleased.
var BuildDate = time.Unix(0, 0).UTC()

func String() string {
	return fmt.Sprintf("%d.%d.%d", Major, Minor, Point)
}

func Print(wtr io.Writer) {
	fmt.Fprintf(wtr, "wisk %s\n", String())
	fmt.Fprintf(wtr, "build date: %s\n", BuildDate.Format(`2006-01-02 15:04:05`))
}
