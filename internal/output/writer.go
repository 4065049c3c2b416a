// Package output writes the per-session artifact bundle and result reports.
package output

import (
	"io"
)

// Writer defines the interface for output writers.
type Writer interface {
	// WriteResult writes a complete value, such as the exploration result
	WriteResult(v interface{}) error

	// WriteRecord appends one record (for streaming)
	WriteRecord(v interface{}) error

	// Flush flushes any buffered output
	Flush() error

	// Close closes the writer
	Close() error
}

// Config holds output configuration.
type Config struct {
	Format string
	Pretty bool
	Stream bool
}

// NewWriter creates a new output writer.
func NewWriter(w io.Writer, config Config) Writer {
	switch config.Format {
	case "jsonl":
		return NewJSONWriter(w, false, true)
	default:
		return NewJSONWriter(w, config.Pretty, config.Stream)
	}
}
