package http1

import (
	"github.com/brisk-server/brisk/internal/channel"
)

// Field block geometry limits. Sizes must fit the 16-bit entries and
// the fixed entry array bounds the line count.
const (
	MaxFieldLines     = 128
	MaxFieldNameSize  = 65535
	MaxFieldValueSize = 65535
)

type fieldEntry struct {
	nameSize  uint16
	valueSize uint16
}

// FieldBlock indexes the contiguous "Name: Value\r\n" lines of a
// header or trailer section laid out in the channel's read buffer.
// Only the sizes are stored; line i starts at the block base plus the
// accumulated length of the preceding lines (each name, value, colon
// and CRLF).
type FieldBlock struct {
	ch         *channel.IOChannel
	blockStart int
	count      int
	entries    [MaxFieldLines]fieldEntry
}

// NewFieldBlock binds a block to the channel holding its bytes.
func NewFieldBlock(ch *channel.IOChannel) *FieldBlock {
	return &FieldBlock{ch: ch}
}

// Reset clears the entries and rebases the block at blockStart.
func (f *FieldBlock) Reset(blockStart int) {
	f.blockStart = blockStart
	f.count = 0
}

// AddLine records a field line. Indices are half-open buffer offsets;
// the value range covers the raw bytes between the colon and the CR,
// including any optional whitespace. The caller guarantees capacity
// and size bounds.
func (f *FieldBlock) AddLine(nameStart, nameEnd, valueStart, valueEnd int) {
	f.entries[f.count] = fieldEntry{
		nameSize:  uint16(nameEnd - nameStart),
		valueSize: uint16(valueEnd - valueStart),
	}
	f.count++
}

// LinesCount returns the number of recorded field lines.
func (f *FieldBlock) LinesCount() int { return f.count }

// HasField reports whether at least one line matches name,
// case-insensitively.
func (f *FieldBlock) HasField(name string) bool { return f.FieldCount(name) > 0 }

// FieldCount returns how many lines match name, case-insensitively.
func (f *FieldBlock) FieldCount(name string) int {
	if name == "" {
		return 0
	}
	matches := 0
	lineStart := f.blockStart
	for i := 0; i < f.count; i++ {
		entry := f.entries[i]
		nameStart := lineStart
		lineStart += int(entry.nameSize) + int(entry.valueSize) + 3
		if int(entry.nameSize) != len(name) {
			continue
		}
		if asciiEqualFold(f.ch.Slice(nameStart, int(entry.nameSize)), name) {
			matches++
		}
	}
	return matches
}

// FieldValue returns the pos-th (1-based) value for name with leading
// and trailing SP/HTAB trimmed, or nil when absent. The slice stays
// valid until the channel is written to.
func (f *FieldBlock) FieldValue(name string, pos int) []byte {
	if name == "" {
		return nil
	}
	current := 0
	lineStart := f.blockStart
	for i := 0; i < f.count; i++ {
		entry := f.entries[i]
		nameStart := lineStart
		lineStart += int(entry.nameSize) + int(entry.valueSize) + 3
		if int(entry.nameSize) != len(name) {
			continue
		}
		if !asciiEqualFold(f.ch.Slice(nameStart, int(entry.nameSize)), name) {
			continue
		}
		current++
		if current != pos {
			continue
		}
		if entry.valueSize == 0 {
			return nil
		}
		raw := f.ch.Slice(nameStart+int(entry.nameSize)+1, int(entry.valueSize))
		trimmed := trimOWS(raw)
		if len(trimmed) == 0 {
			return nil
		}
		return trimmed
	}
	return nil
}
