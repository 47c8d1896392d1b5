package wisklog

import (
	"fmt"
	"io"
	"runtime"

	"github.com/crewjam/rfc5424"
	"github.com/shirou/gopsutil/v3/host"
)

// KV builds a structured-data field for a log line.
func KV(name string, value interface{}) rfc5424.SDParam {
	switch v := value.(type) {
	case string:
		return rfc5424.SDParam{Name: name, Value: v}
	default:
		return rfc5424.SDParam{Name: name, Value: fmt.Sprintf("%v", value)}
	}
}

// KVErr is shorthand for KV("error", err); err may be nil.
func KVErr(err error) rfc5424.SDParam {
	if err == nil {
		return KV("error", "")
	}
	return KV("error", err.Error())
}

// PrintOSInfo writes a one-line OS/platform banner, used by `wisk --verbose`
// on startup so a captured .raw stream can be traced back to the host that
// produced it.
func PrintOSInfo(wtr io.Writer) {
	platform, _, version, err := host.PlatformInformation()
	if err != nil {
		fmt.Fprintf(wtr, "OS:\t%s/%s (platform lookup failed: %v)\n", runtime.GOOS, runtime.GOARCH, err)
		return
	}
	fmt.Fprintf(wtr, "OS:\t%s/%s [%s %s]\n", runtime.GOOS, runtime.GOARCH, platform, version)
}
