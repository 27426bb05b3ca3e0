package netserver

// maxWriteBufferBytes bounds a single connection's pending output before
// the server deregisters its readable interest, per spec.md §5's
// backpressure requirement ("unbounded growth is a correctness bug").
const maxWriteBufferBytes = 4 << 20 // 4 MiB

// readCompactThreshold is how large readBuf's backing array is allowed to
// grow relative to its live contents before it gets copied down to a fresh,
// right-sized slice. Without this, repeatedly slicing off a consumed
// prefix (readBuf = readBuf[n:]) never shrinks the backing array a long-
// lived, mostly-idle connection holds onto.
const readCompactThreshold = 64 * 1024

// conn holds the per-connection state of the READING/DISPATCH/WRITING
// machine described in spec.md §4.5.
type conn struct {
	fd int

	readBuf  []byte
	writeBuf []byte

	writable bool // true while registered for EPOLLOUT
	closing  bool
}

// appendRead adds newly read bytes to the connection's read buffer.
func (c *conn) appendRead(b []byte) {
	c.readBuf = append(c.readBuf, b...)
}

// consumeRead drops n bytes from the front of the read buffer, compacting
// the backing array once it has grown much larger than its live contents.
func (c *conn) consumeRead(n int) {
	c.readBuf = c.readBuf[n:]
	if cap(c.readBuf) > readCompactThreshold && cap(c.readBuf) > 4*len(c.readBuf) {
		compacted := make([]byte, len(c.readBuf))
		copy(compacted, c.readBuf)
		c.readBuf = compacted
	}
}

// enqueueWrite appends a reply to the connection's pending output.
func (c *conn) enqueueWrite(b []byte) {
	if len(b) == 0 {
		return
	}
	c.writeBuf = append(c.writeBuf, b...)
}

// overBackpressureThreshold reports whether the connection's pending
// output has grown large enough that the server should stop reading from
// it until it drains.
func (c *conn) overBackpressureThreshold() bool {
	return len(c.writeBuf) > maxWriteBufferBytes
}
