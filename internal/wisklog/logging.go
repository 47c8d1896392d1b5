// Package wisklog provides the leveled, structured logger used by every
// wisk component. It follows the same shape as the tracker's own debug
// stream: an RFC 5424 structured-data message per log line, a fixed set of
// KV fields, and a handful of writers any of which may be swapped out at
// runtime.
package wisklog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

// Level is a logging severity, ordered least to most severe.
type Level int

const (
	OFF Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
)

const (
	defaultDepth = 3
	defaultMsgID = `wisk`

	maxAppname  = 48
	maxHostname = 255
)

var (
	ErrNotOpen      = errors.New("logger is not open")
	ErrInvalidLevel = errors.New("invalid log level")
)

// FromVerbosity maps the supervisor's 0..5 WISK_TRACKER_DEBUGLEVEL scale
// onto a Level: 0 is silent, 5 is DEBUG and everything in between steps
// down one severity per point.
func FromVerbosity(v int) Level {
	switch {
	case v <= 0:
		return OFF
	case v == 1:
		return CRITICAL
	case v == 2:
		return ERROR
	case v == 3:
		return WARN
	case v == 4:
		return INFO
	default:
		return DEBUG
	}
}

func (l Level) String() string {
	switch l {
	case OFF:
		return `OFF`
	case DEBUG:
		return `DEBUG`
	case INFO:
		return `INFO`
	case WARN:
		return `WARN`
	case ERROR:
		return `ERROR`
	case CRITICAL:
		return `CRITICAL`
	}
	return `UNKNOWN`
}

func (l Level) valid() bool {
	return l >= OFF && l <= CRITICAL
}

func (l Level) priority() rfc5424.Priority {
	switch l {
	case DEBUG:
		return rfc5424.User | rfc5424.Debug
	case INFO:
		return rfc5424.User | rfc5424.Info
	case WARN:
		return rfc5424.User | rfc5424.Warning
	case ERROR:
		return rfc5424.User | rfc5424.Error
	case CRITICAL:
		return rfc5424.User | rfc5424.Crit
	}
	return rfc5424.User | rfc5424.Debug
}

// Logger is a leveled, multi-writer logger that encodes each line as an
// RFC 5424 structured-data message.
type Logger struct {
	mtx      sync.Mutex
	wtrs     []io.WriteCloser
	lvl      Level
	hostname string
	appname  string
	open     bool
}

// New creates a Logger at INFO level writing to wtr.
func New(wtr io.WriteCloser) *Logger {
	l := &Logger{
		wtrs: []io.WriteCloser{wtr},
		lvl:  INFO,
		open: true,
	}
	l.guessIdentity()
	return l
}

// NewFile opens (or creates) f in append mode and returns a Logger for it.
func NewFile(f string) (*Logger, error) {
	fout, err := os.OpenFile(f, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0660)
	if err != nil {
		return nil, err
	}
	return New(fout), nil
}

// NewDiscard returns a Logger that drops every line; useful when no
// WISK_TRACKER_DEBUGLOG sink was configured.
func NewDiscard() *Logger {
	return New(discardWriter{})
}

func (l *Logger) guessIdentity() {
	if h, err := os.Hostname(); err == nil {
		l.hostname = trim(h, maxHostname)
	}
	if len(os.Args) > 0 {
		exe := filepath.Base(os.Args[0])
		if ext := filepath.Ext(exe); len(ext) > 0 && len(ext) < len(exe) {
			exe = strings.TrimSuffix(exe, ext)
		}
		l.appname = trim(exe, maxAppname)
	}
}

// SetLevel adjusts the minimum level that will be emitted.
func (l *Logger) SetLevel(lvl Level) error {
	if !lvl.valid() {
		return ErrInvalidLevel
	}
	l.mtx.Lock()
	l.lvl = lvl
	l.mtx.Unlock()
	return nil
}

// AddWriter fans out subsequent log lines to an additional writer.
func (l *Logger) AddWriter(wtr io.WriteCloser) {
	l.mtx.Lock()
	l.wtrs = append(l.wtrs, wtr)
	l.mtx.Unlock()
}

// Close closes every writer the logger owns.
func (l *Logger) Close() (err error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.open = false
	for _, w := range l.wtrs {
		if lerr := w.Close(); lerr != nil {
			err = lerr
		}
	}
	return
}

func (l *Logger) Debug(msg string, sds ...rfc5424.SDParam)    { l.output(defaultDepth, DEBUG, msg, sds...) }
func (l *Logger) Info(msg string, sds ...rfc5424.SDParam)      { l.output(defaultDepth, INFO, msg, sds...) }
func (l *Logger) Warn(msg string, sds ...rfc5424.SDParam)      { l.output(defaultDepth, WARN, msg, sds...) }
func (l *Logger) Error(msg string, sds ...rfc5424.SDParam)     { l.output(defaultDepth, ERROR, msg, sds...) }
func (l *Logger) Critical(msg string, sds ...rfc5424.SDParam)  { l.output(defaultDepth, CRITICAL, msg, sds...) }

func (l *Logger) output(depth int, lvl Level, msg string, sds ...rfc5424.SDParam) {
	l.mtx.Lock()
	skip := !l.open || lvl < l.lvl
	cur := l.lvl
	l.mtx.Unlock()
	if skip || cur == OFF {
		return
	}
	ts := time.Now()
	b, err := genRFCMessage(ts, lvl.priority(), l.hostname, l.appname, callLoc(depth), msg, sds...)
	if err != nil {
		return
	}
	l.mtx.Lock()
	for _, w := range l.wtrs {
		io.WriteString(w, string(b))
		io.WriteString(w, "\n")
	}
	l.mtx.Unlock()
}

// genRFCMessage renders a single RFC 5424 message with sds packed as one
// structured-data element, matching the shape the original tracker's debug
// log used for its own diagnostics.
func genRFCMessage(ts time.Time, prio rfc5424.Priority, hostname, appname, msgid, msg string, sds ...rfc5424.SDParam) ([]byte, error) {
	m := rfc5424.Message{
		Priority:  prio,
		Timestamp: ts,
		Hostname:  trim(hostname, maxHostname),
		AppName:   trim(appname, maxAppname),
		MessageID: trim(msgid, 32),
		Message:   []byte(msg),
	}
	if len(sds) > 0 {
		m.StructuredData = []rfc5424.StructuredData{
			{ID: defaultMsgID, Parameters: sds},
		}
	}
	return m.MarshalBinary()
}

func callLoc(depth int) (s string) {
	if _, file, line, ok := runtime.Caller(depth); ok {
		dir, f := filepath.Split(file)
		s = fmt.Sprintf("%s:%d", filepath.Join(filepath.Base(dir), f), line)
	}
	return
}

func trim(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type discardWriter struct{}

func (discardWriter) Write(b []byte) (int, error) { return len(b), nil }
func (discardWriter) Close() error                { return nil }
