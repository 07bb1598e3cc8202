// Package lineproto implements the newline-delimited ASCII protocol spoken by
// the lights controller over the serial link.
//
// Inbound state lines look like "pendant on 55" or "kitchen off"; outbound
// commands are "kitchen on", "kitchen off" and "pendant on 40".
package lineproto

import (
	"bytes"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// MaxBrightness is the top of the brightness scale.
	MaxBrightness = 100

	// maxPending bounds the partial-line buffer so a controller that never
	// sends a newline cannot grow it without limit.
	maxPending = 4096
)

// State is one decoded state line.
type State struct {
	Device     string
	On         bool
	Brightness int
}

// DeviceSet reports whether a device id is registered.
type DeviceSet interface {
	Known(id string) bool
}

// Codec splits raw serial bytes into state lines. It is not safe for
// concurrent use; the reader loop owns it.
type Codec struct {
	devices DeviceSet
	buf     []byte
	// discarding is set after an over-long partial line was dropped; the
	// rest of that line, up to its newline, is skipped too.
	discarding bool
}

// NewCodec returns a codec that keeps only lines for devices in set.
func NewCodec(set DeviceSet) *Codec {
	return &Codec{devices: set}
}

// Feed appends data to the buffer and returns every state decoded from the
// complete lines now available. A trailing partial line stays buffered.
func (c *Codec) Feed(data []byte) []State {
	c.buf = append(c.buf, data...)

	var out []State
	for {
		i := bytes.IndexByte(c.buf, '\n')
		if i < 0 {
			break
		}
		line := string(c.buf[:i])
		c.buf = c.buf[i+1:]

		if c.discarding {
			c.discarding = false
			continue
		}
		if st, ok := c.decode(line); ok {
			out = append(out, st)
		}
	}

	switch {
	case len(c.buf) > maxPending:
		c.buf = nil
		c.discarding = true
	case len(c.buf) == 0:
		c.buf = nil
	}
	return out
}

// Pending returns the number of buffered bytes of an incomplete line. Bytes
// of a line being discarded are not counted.
func (c *Codec) Pending() int { return len(c.buf) }

func (c *Codec) decode(raw string) (State, bool) {
	if !utf8.ValidString(raw) {
		raw = strings.ToValidUTF8(raw, "")
	}
	st, ok := ParseLine(raw)
	if !ok {
		return State{}, false
	}
	if c.devices != nil && !c.devices.Known(st.Device) {
		return State{}, false
	}
	return st, true
}

// ParseLine decodes a single state line without the trailing newline. Empty
// lines, controller error reports and lines with fewer than two fields are
// rejected.
func ParseLine(line string) (State, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.Contains(strings.ToLower(line), "error") {
		return State{}, false
	}

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return State{}, false
	}

	st := State{
		Device: strings.ToLower(fields[0]),
		On:     strings.EqualFold(fields[1], "on"),
	}
	switch {
	case len(fields) > 2 && isDigits(fields[2]):
		st.Brightness = parseLevel(fields[2])
	case st.On:
		st.Brightness = MaxBrightness
	}
	return st, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// parseLevel converts an all-digit token; values too large for an int are
// treated as full brightness.
func parseLevel(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return MaxBrightness
	}
	return Clamp(n)
}

// Clamp limits a brightness to [0, MaxBrightness].
func Clamp(b int) int {
	switch {
	case b < 0:
		return 0
	case b > MaxBrightness:
		return MaxBrightness
	}
	return b
}
