package output

import (
	"encoding/json"
	"io"
	"sync"
)

// JSONWriter writes values as JSON. In stream mode each record is one line.
type JSONWriter struct {
	mu      sync.Mutex
	writer  io.Writer
	pretty  bool
	stream  bool
	encoder *json.Encoder
	closed  bool
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(w io.Writer, pretty, stream bool) *JSONWriter {
	jw := &JSONWriter{
		writer: w,
		pretty: pretty,
		stream: stream,
	}

	jw.encoder = json.NewEncoder(w)
	jw.encoder.SetEscapeHTML(false)
	if pretty && !stream {
		jw.encoder.SetIndent("", "  ")
	}

	return jw
}

// WriteResult writes v followed by a newline.
func (j *JSONWriter) WriteResult(v interface{}) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	return j.encoder.Encode(v)
}

// WriteRecord writes v as a single line in stream mode and is a no-op otherwise.
func (j *JSONWriter) WriteRecord(v interface{}) error {
	if !j.stream {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	return j.encoder.Encode(v)
}

// Flush flushes the underlying writer if it supports it.
func (j *JSONWriter) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if f, ok := j.writer.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Close flushes and closes the underlying writer if it supports it.
func (j *JSONWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if f, ok := j.writer.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	if c, ok := j.writer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
