// Package sink provides the in-memory output accumulator for callers of
// rewrite.New that do not want to supply their own io.Writer.
package sink

import "bytes"

// Buffer is an io.Writer that accumulates everything written to it. The
// zero value is ready to use.
type Buffer struct {
	buf bytes.Buffer
}

// Write implements io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	return b.buf.Write(p)
}

// Bytes returns the accumulated output. The returned slice is only valid
// until the next Write.
func (b *Buffer) Bytes() []byte {
	return b.buf.Bytes()
}

// String returns the accumulated output as a string.
func (b *Buffer) String() string {
	return b.buf.String()
}

// Reset discards all accumulated output so the Buffer can be reused for
// another document.
func (b *Buffer) Reset() {
	b.buf.Reset()
}
