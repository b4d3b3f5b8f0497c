// Package replay drives a Touchmap from a recorded or synthetic stream
// of host events.
//
// A stream is newline-delimited JSON, one event per line:
//
//	{"kind":"layout","t":1717236000000}
//	{"kind":"begin","pointer":0,"x":120,"y":300,"t":1717236000100}
//	{"kind":"move","pointer":0,"x":124,"y":340,"t":"2024-06-01T10:00:00.150Z"}
//	{"kind":"end","pointer":0,"t":1717236000200}
//	{"kind":"state","state":"background"}
//
// Blank lines and lines starting with # are skipped.
package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Event kinds.
const (
	KindLayout           = "layout"
	KindState            = "state"
	KindBegin            = "begin"
	KindMove             = "move"
	KindEnd              = "end"
	KindCancel           = "cancel"
	KindTap              = "tap"
	KindAccessibilityTap = "accessibility_tap"
	KindMagicTap         = "magic_tap"
	KindPress            = "press"
	KindLongPress        = "long_press"
	KindClear            = "clear"
)

// Event is one line of a stream.
type Event struct {
	Kind    string    `json:"kind"`
	Pointer int       `json:"pointer,omitempty"`
	X       float64   `json:"x,omitempty"`
	Y       float64   `json:"y,omitempty"`
	T       Timestamp `json:"t,omitzero"`
	State   string    `json:"state,omitempty"`
	Region  string    `json:"region,omitempty"`
}

// Timestamp accepts an RFC 3339 string or integer epoch milliseconds.
// It encodes as epoch milliseconds. The zero value means "now".
type Timestamp struct {
	time.Time
}

// Millis returns a Timestamp for epoch milliseconds ms.
func Millis(ms int64) Timestamp {
	return Timestamp{time.UnixMilli(ms).UTC()}
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(t.UnixMilli(), 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}
	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("parse epoch milliseconds %s: %w", data, err)
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

// LineError reports a malformed or rejected event.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Decoder reads events from a stream.
type Decoder struct {
	sc   *bufio.Scanner
	line int
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	return &Decoder{sc: sc}
}

// Line returns the line number of the last event returned.
func (d *Decoder) Line() int {
	return d.line
}

// Next returns the next event, or io.EOF at the end of the stream.
func (d *Decoder) Next() (Event, error) {
	for d.sc.Scan() {
		d.line++
		raw := bytes.TrimSpace(d.sc.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return Event{}, &LineError{Line: d.line, Err: err}
		}
		if ev.Kind == "" {
			return Event{}, &LineError{Line: d.line, Err: errors.New("missing kind")}
		}
		return ev, nil
	}
	if err := d.sc.Err(); err != nil {
		return Event{}, fmt.Errorf("read events: %w", err)
	}
	return Event{}, io.EOF
}

// Encoder writes events as newline-delimited JSON.
type Encoder struct {
	enc *json.Encoder
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode writes one event.
func (e *Encoder) Encode(ev Event) error {
	return e.enc.Encode(ev)
}
