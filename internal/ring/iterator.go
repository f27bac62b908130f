package ring

// WideIterator reads the logical byte stream of a Buffer in 32-byte
// blocks, hiding the wrap point from scanners. Constructing one
// mirrors the first 32 bytes of the allocation into the reserved tail
// so that a block load at any index up to the buffered size stays in
// bounds even when it crosses the wrap.
type WideIterator struct {
	b *Buffer
}

// NewWideIterator prepares a wide view over b. The iterator is
// invalidated by any write to or reallocation of b.
func NewWideIterator(b *Buffer) WideIterator {
	copy(b.buf[b.current:b.current+32], b.buf[:32])
	return WideIterator{b: b}
}

// NextAt returns the 32 bytes of the logical stream starting at index.
// index must be at most the buffered size.
func (it WideIterator) NextAt(index int) [32]byte {
	var block [32]byte
	b := it.b
	if index < b.rightSize {
		copy(block[:], b.buf[b.dataOff+index:])
	} else {
		copy(block[:], b.buf[index-b.rightSize:])
	}
	return block
}
