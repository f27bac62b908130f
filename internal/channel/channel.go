// Package channel provides the buffered I/O channel that sits between
// the ring buffers and the underlying transport. A channel pairs one
// read buffer with one write buffer and tracks edge-triggered read and
// write notification flags: the reactor arms the transport readiness
// source only while the matching flag is raised. Read notification is
// enabled iff the read buffer is not full; write notification is
// enabled iff the write buffer is not empty.
package channel

import "github.com/brisk-server/brisk/internal/ring"

// IOChannel moves bytes between a DataSource/DataSink pair and its two
// ring buffers. All methods must be called from the worker thread that
// owns the channel; there is no locking.
type IOChannel struct {
	readBuf  *ring.Buffer
	writeBuf *ring.Buffer

	source ring.DataSource
	sink   ring.DataSink

	readNotifEnabled  bool
	writeNotifEnabled bool

	// OnReadNotification and OnWriteNotification fire on every flag
	// transition so the reactor can arm or disarm the underlying
	// readiness source.
	OnReadNotification  func(enabled bool)
	OnWriteNotification func(enabled bool)

	// OnReceivedData fires after ReadFromChannel moved at least one
	// byte into the read buffer. OnSentData fires after WriteToChannel
	// drained at least one byte into the sink.
	OnReceivedData func()
	OnSentData     func(n int)
}

// New creates a channel whose read buffer is bounded by
// readBufferCapacity (zero means unbounded) and whose linearization
// path uses the given per-worker scratch.
func New(source ring.DataSource, sink ring.DataSink, readBufferCapacity int, scratch *ring.Scratch) *IOChannel {
	return &IOChannel{
		readBuf:           ring.NewWithScratch(readBufferCapacity, scratch),
		writeBuf:          ring.NewWithScratch(0, scratch),
		source:            source,
		sink:              sink,
		readNotifEnabled:  true,
		writeNotifEnabled: true,
	}
}

// ReadBuffer exposes the read buffer for zero-copy scanning.
func (c *IOChannel) ReadBuffer() *ring.Buffer { return c.readBuf }

// DataAvailable returns the bytes buffered for reading.
func (c *IOChannel) DataAvailable() int { return c.readBuf.Size() }

// DataToWrite returns the bytes still waiting to reach the sink.
func (c *IOChannel) DataToWrite() int { return c.writeBuf.Size() }

// PeekByte returns the read-buffer byte at index without consuming.
func (c *IOChannel) PeekByte(index int) byte { return c.readBuf.PeekByte(index) }

// Slice returns count read-buffer bytes starting at pos without
// consuming. Writing to the channel invalidates the slice.
func (c *IOChannel) Slice(pos, count int) []byte { return c.readBuf.Slice(pos, count) }

// PeekAll returns all buffered read bytes without consuming.
func (c *IOChannel) PeekAll() []byte { return c.readBuf.PeekAll() }

// ReadAll consumes and returns all buffered read bytes.
func (c *IOChannel) ReadAll() []byte {
	wasFull := c.readBuf.IsFull()
	data := c.readBuf.ReadAll()
	if wasFull {
		c.setReadNotification(true)
	}
	return data
}

// Skip drops up to n bytes from the read buffer and re-enables read
// notification if the buffer was previously full.
func (c *IOChannel) Skip(n int) int {
	wasFull := c.readBuf.IsFull()
	popped := c.readBuf.PopFront(n)
	c.setReadNotification(popped > 0 || !wasFull)
	return popped
}

// Read dequeues up to len(p) bytes from the read buffer.
func (c *IOChannel) Read(p []byte) int {
	wasFull := c.readBuf.IsFull()
	n := c.readBuf.Read(p)
	c.setReadNotification(n > 0 || !wasFull)
	return n
}

// Write queues p for delivery. It never fails and never partially
// accepts: when the write buffer is empty the bytes are pushed to the
// sink first, and whatever the sink does not take is buffered.
func (c *IOChannel) Write(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	written := 0
	if c.writeBuf.IsEmpty() {
		written = c.sink.Write(p)
	}
	if written < len(p) {
		c.writeBuf.Write(p[written:])
	}
	c.setWriteNotification(!c.writeBuf.IsEmpty())
	return len(p)
}

// WriteString is Write for string payloads.
func (c *IOChannel) WriteString(s string) int { return c.Write([]byte(s)) }

// ReadBufferCapacity returns the read buffer's hard cap.
func (c *IOChannel) ReadBufferCapacity() int { return c.readBuf.Capacity() }

// SetReadBufferCapacity changes the read buffer's hard cap. It fails
// when the new cap cannot hold the bytes already buffered.
func (c *IOChannel) SetReadBufferCapacity(capacity int) bool {
	return c.readBuf.SetCapacity(capacity)
}

// Clear empties both buffers and re-enables both notifications.
func (c *IOChannel) Clear() {
	c.readBuf.Clear()
	c.writeBuf.Clear()
	c.setReadNotification(true)
	c.setWriteNotification(true)
}

// Reset restores both buffers to their initial capacity; both must be
// empty for it to succeed.
func (c *IOChannel) Reset() bool {
	readReset := c.readBuf.Reset()
	writeReset := c.writeBuf.Reset()
	return readReset && writeReset
}

// ReadFromChannel pulls from the source into the read buffer. Read
// notification is disabled iff the buffer becomes full. OnReceivedData
// fires only when at least one byte moved.
func (c *IOChannel) ReadFromChannel() int {
	n := c.readBuf.WriteFrom(c.source)
	c.setReadNotification(!c.readBuf.IsFull())
	if n > 0 && c.OnReceivedData != nil {
		c.OnReceivedData()
	}
	return n
}

// WriteToChannel drains the write buffer into the sink. Write
// notification is disabled iff the buffer becomes empty. OnSentData
// fires only when at least one byte moved.
func (c *IOChannel) WriteToChannel() int {
	n := c.writeBuf.ReadTo(c.sink)
	c.setWriteNotification(!c.writeBuf.IsEmpty())
	if n > 0 && c.OnSentData != nil {
		c.OnSentData(n)
	}
	return n
}

// IsReadNotificationEnabled reports the read flag state.
func (c *IOChannel) IsReadNotificationEnabled() bool { return c.readNotifEnabled }

// IsWriteNotificationEnabled reports the write flag state.
func (c *IOChannel) IsWriteNotificationEnabled() bool { return c.writeNotifEnabled }

func (c *IOChannel) setReadNotification(enabled bool) {
	if c.readNotifEnabled != enabled {
		c.readNotifEnabled = enabled
		if c.OnReadNotification != nil {
			c.OnReadNotification(enabled)
		}
	}
}

func (c *IOChannel) setWriteNotification(enabled bool) {
	if c.writeNotifEnabled != enabled {
		c.writeNotifEnabled = enabled
		if c.OnWriteNotification != nil {
			c.OnWriteNotification(enabled)
		}
	}
}
