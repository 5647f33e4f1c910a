package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// SetHeaders configures the response for an SSE stream: text/event-stream, no caching,
// a persistent connection. Status is written as 200. Safe to call even when the
// underlying ResponseWriter has no flush capability.
func SetHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	Flush(w)
}

// Flush flushes w if it supports http.Flusher; otherwise it is a no-op.
func Flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// WriteEvent writes one SSE frame ("data: <json>\n\n") for payload, then flushes.
// payload may be any JSON-marshalable value, or the literal string DoneSentinel.
func WriteEvent(w io.Writer, payload any) error {
	var body []byte
	if s, ok := payload.(string); ok {
		body = []byte(s)
	} else {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("sse: marshal event: %w", err)
		}
		body = encoded
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", body); err != nil {
		return fmt.Errorf("sse: write event: %w", err)
	}
	if rw, ok := w.(http.ResponseWriter); ok {
		Flush(rw)
	}
	return nil
}

// WriteDone writes the terminal "data: [DONE]\n\n" frame.
func WriteDone(w io.Writer) error {
	return WriteEvent(w, DoneSentinel)
}

// ChunkEnvelope builds a chat.completion.chunk object with choices[0].delta = delta.
// created is unix seconds, typically time.Now().Unix() at call sites.
func ChunkEnvelope(id, model string, created int64, delta any, finishReason *string) map[string]any {
	return map[string]any{
		"id":      id,
		"object":  "chat.completion.chunk",
		"created": created,
		"model":   model,
		"choices": []map[string]any{
			{
				"index":         0,
				"delta":         delta,
				"finish_reason": finishReason,
			},
		},
	}
}

const defaultPreviewBytes = 2048

// TeeResult is returned by Tee: Reader forwards the source bytes unchanged, and
// Preview resolves once the source is fully drained (or an error occurs) to up to
// maxPreviewBytes of the beginning of the stream.
type TeeResult struct {
	Reader  io.Reader
	preview *previewState
}

type previewState struct {
	mu   sync.Mutex
	buf  []byte
	done chan struct{}
	once sync.Once
}

// Preview blocks until the tee has finished copying (or errored), then returns up to
// maxPreviewBytes of UTF-8 text captured from the start of the stream.
func (t *TeeResult) Preview() string {
	if t.preview == nil {
		return ""
	}
	<-t.preview.done
	t.preview.mu.Lock()
	defer t.preview.mu.Unlock()
	return string(t.preview.buf)
}

// Tee wraps src so that reads through the returned Reader are identical to src, while
// up to maxPreviewBytes (defaultPreviewBytes if <= 0) of the leading bytes are
// captured for later retrieval via TeeResult.Preview. If src is nil, the returned
// Reader is nil and Preview immediately returns "".
func Tee(src io.Reader, maxPreviewBytes int) *TeeResult {
	if src == nil {
		ps := &previewState{done: make(chan struct{})}
		close(ps.done)
		return &TeeResult{Reader: nil, preview: ps}
	}
	if maxPreviewBytes <= 0 {
		maxPreviewBytes = defaultPreviewBytes
	}

	ps := &previewState{done: make(chan struct{})}
	pr, pw := io.Pipe()

	go func() {
		defer pw.Close()
		defer ps.once.Do(func() { close(ps.done) })

		buf := make([]byte, 32*1024)
		for {
			n, err := src.Read(buf)
			if n > 0 {
				ps.mu.Lock()
				if len(ps.buf) < maxPreviewBytes {
					remain := maxPreviewBytes - len(ps.buf)
					if remain > n {
						remain = n
					}
					ps.buf = append(ps.buf, buf[:remain]...)
				}
				ps.mu.Unlock()

				if _, werr := pw.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					pw.CloseWithError(err)
				}
				return
			}
		}
	}()

	return &TeeResult{Reader: pr, preview: ps}
}

// BufferedWriter wraps a ResponseWriter with bufio for higher-throughput SSE writes,
// matching the teacher's preference for buffering long-lived stream bodies. Flush
// must be called (via Flush) after each logical frame.
func BufferedWriter(w http.ResponseWriter) *bufio.Writer {
	return bufio.NewWriterSize(w, 4096)
}
