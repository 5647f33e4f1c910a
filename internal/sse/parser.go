// Package sse implements Server-Sent Events parsing of upstream provider streams
// (Component A) and the client-facing SSE framing/tee utilities (Component C). The
// parser is sans-I/O: it consumes byte slices and a carry-over string and never
// touches a socket itself.
package sse

import (
	"bytes"
	"encoding/json"
	"strings"
)

const dataPrefix = "data:"

// DoneSentinel is the literal upstream payload that terminates a stream.
const DoneSentinel = "[DONE]"

// Callbacks groups the three sinks Parse reports into.
type Callbacks struct {
	// OnEvent fires once per successfully-decoded JSON data payload.
	OnEvent func(obj map[string]any)
	// OnDone fires when the literal "[DONE]" sentinel is seen.
	OnDone func()
	// OnRawLine fires for any complete line that isn't a recognized "data:" event,
	// for diagnostic use. May be nil.
	OnRawLine func(line string)
}

// Parse consumes newBytes, appended to carryOver from a previous call, splits it into
// lines (tolerating \n, \r\n, and a lone trailing \r held over a buffer boundary),
// and dispatches data: lines to cb. It returns the new carry-over: any bytes after the
// last complete line, to be prepended to the next call's input.
//
// Feeding the same byte stream in any split produces the same sequence of OnEvent/
// OnDone calls as feeding it in one shot.
func Parse(newBytes []byte, carryOver string, cb Callbacks) string {
	buf := carryOver + string(newBytes)

	for {
		idx := strings.IndexAny(buf, "\r\n")
		if idx < 0 {
			break
		}

		line := buf[:idx]
		rest := buf[idx+1:]

		// A lone \r: if it's the very last byte of the buffer, we don't yet know
		// whether a \n follows in the next chunk, so hold it back in carry-over.
		if buf[idx] == '\r' {
			if idx == len(buf)-1 {
				return buf
			}
			if rest != "" && rest[0] == '\n' {
				rest = rest[1:]
			}
		}

		dispatchLine(line, cb)
		buf = rest
	}

	return buf
}

func dispatchLine(line string, cb Callbacks) {
	if !strings.HasPrefix(line, dataPrefix) {
		if cb.OnRawLine != nil && line != "" {
			cb.OnRawLine(line)
		}
		return
	}

	payload := strings.TrimPrefix(line, dataPrefix)
	payload = strings.TrimPrefix(payload, " ")

	if payload == DoneSentinel {
		if cb.OnDone != nil {
			cb.OnDone()
		}
		return
	}

	var obj map[string]any
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return
	}
	if cb.OnEvent != nil {
		cb.OnEvent(obj)
	}
}
