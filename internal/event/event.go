// Package event implements the wire codec shared by every interposer and
// the supervisor's tree builder (spec.md §4.3): one record per line,
// `UUID SPACE OP SPACE JSON-PAYLOAD NEWLINE`, with continuation support for
// payloads too large to write atomically in one line.
package event

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Op names every event kind the interposer emits.
type Op string

const (
	OpCalls       Op = "CALLS"
	OpCommand     Op = "COMMAND"
	OpCommandPath Op = "COMMAND_PATH"
	OpWorkingDir  Op = "WORKING_DIRECTORY"
	OpEnvironment Op = "ENVIRONMENT"
	OpPID         Op = "PID"
	OpPPID        Op = "PPID"
	OpReads       Op = "READS"
	OpWrites      Op = "WRITES"
	OpLinks       Op = "LINKS"
	OpUnlink      Op = "UNLINK"
	OpChmod       Op = "CHMOD"
	OpComplete    Op = "COMPLETE"
)

// Event is one decoded record from the sink.
type Event struct {
	UUID    string
	Op      Op
	Payload json.RawMessage
}

// Encode renders uuid, op and the JSON form of payload as a single wire
// line (no trailing newline), the form
// every interposer write is expected to produce when the payload is small
// enough to fit PIPE_BUF.
func Encode(uuid string, op Op, payload interface{}) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", uuid, op, b), nil
}

// key identifies the (uuid, op) pair continuation buffering is keyed by.
type key struct {
	uuid string
	op   Op
}

// Decoder reassembles whole Events from a line-oriented reader, buffering
// continuation lines per (uuid,op) until the accumulated text parses as a
// complete JSON value (spec.md §4.3: "parsing success is the only
// termination signal -- not structural markers").
type Decoder struct {
	scanner *bufio.Scanner
	pending map[key]*strings.Builder
}

// NewDecoder wraps r. The scanner's buffer is grown generously since a
// single ENVIRONMENT line can be large even before continuation kicks in.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Decoder{
		scanner: sc,
		pending: make(map[key]*strings.Builder),
	}
}

// ErrMalformed reports a line with no parseable "uuid op payload" shape.
type ErrMalformed struct{ Line string }

func (e ErrMalformed) Error() string { return fmt.Sprintf("event: malformed line: %q", e.Line) }

// Next returns the next fully-reassembled event, skipping malformed lines
// with a returned ErrMalformed (the caller decides whether to log and
// continue, per spec.md §7's "codec parse error: log and skip"). It
// returns io.EOF once the underlying reader is exhausted; a continuation
// still pending at that point is dropped without being returned.
func (d *Decoder) Next() (Event, error) {
	for d.scanner.Scan() {
		line := d.scanner.Text()
		uuid, op, payload, ok := splitLine(line)
		if !ok {
			return Event{}, ErrMalformed{Line: line}
		}
		k := key{uuid: uuid, op: op}
		sb := d.pending[k]
		if sb == nil {
			sb = &strings.Builder{}
			d.pending[k] = sb
		} else {
			sb.WriteByte('\n')
		}
		sb.WriteString(payload)

		var raw json.RawMessage
		if err := json.Unmarshal([]byte(sb.String()), &raw); err != nil {
			// Not yet a complete value; wait for the next line for this key.
			continue
		}
		delete(d.pending, k)
		return Event{UUID: uuid, Op: op, Payload: raw}, nil
	}
	if err := d.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// splitLine parses "UUID OP JSON..." into its three space-delimited
// sections, where JSON may itself contain spaces.
func splitLine(line string) (uuid string, op Op, payload string, ok bool) {
	first := strings.IndexByte(line, ' ')
	if first < 0 {
		return
	}
	rest := line[first+1:]
	second := strings.IndexByte(rest, ' ')
	if second < 0 {
		return
	}
	uuid = line[:first]
	op = Op(rest[:second])
	payload = rest[second+1:]
	ok = uuid != "" && op != ""
	return
}

// DecodeString parses a JSON string payload. It and the DecodeStringArray,
// DecodeBool and DecodeInt helpers below are used by the tree builder once
// it knows the op-specific shape it expects.
func DecodeString(payload json.RawMessage) (string, error) {
	var s string
	err := json.Unmarshal(payload, &s)
	return s, err
}

func DecodeStringArray(payload json.RawMessage) ([]string, error) {
	var s []string
	err := json.Unmarshal(payload, &s)
	return s, err
}

func DecodeBool(payload json.RawMessage) (bool, error) {
	var b bool
	err := json.Unmarshal(payload, &b)
	return b, err
}

func DecodeInt(payload json.RawMessage) (int, error) {
	var n int
	err := json.Unmarshal(payload, &n)
	return n, err
}
