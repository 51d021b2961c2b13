// Package outlog appends one TAB-separated line per observed access to
// the configured output file.
package outlog

import (
	"bufio"
	"fmt"
	"os"
)

// Writer appends access-log lines to a file opened in append mode. It
// wraps a buffered writer but flushes after every line, so the file on
// disk is never more than one write behind what callers have seen
// succeed.
type Writer struct {
	file *os.File
	buf  *bufio.Writer
}

// Open opens path in append mode, creating it if necessary.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("outlog: open %s: %w", path, err)
	}
	return &Writer{file: f, buf: bufio.NewWriter(f)}, nil
}

// WriteLine appends one line in the format
// "<timestamp>\t<path>\t<access>\t<pid>\t<uid>\n" and flushes it to the
// underlying file before returning.
func (w *Writer) WriteLine(timestamp int64, path, access, pid, uid string) error {
	if _, err := fmt.Fprintf(w.buf, "%d\t%s\t%s\t%s\t%s\n", timestamp, path, access, pid, uid); err != nil {
		return fmt.Errorf("outlog: write line: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("outlog: flush: %w", err)
	}
	return nil
}

// Close closes the underlying file. It is safe to call more than once.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return fmt.Errorf("outlog: close: %w", err)
	}
	return nil
}
