package base

// RingBuffer is an automatically growable ring buffer of bytes, used for
// both read and write staging throughout the socket and IRC/RPC layers.
//
// Capacity is always a power of two; wrap-around uses the bitmask
// capacity-1. It does not fully hide the wrap-around from callers: the
// primary accessors (Push, Front) may hand back two slices when the
// requested region straddles the end of the backing array.
type RingBuffer struct {
	data  []byte
	used  int
	first int
}

const defaultRingCapacity = 4096

// NewRingBuffer constructs a ring buffer with the given initial capacity,
// which must be a power of two.
func NewRingBuffer(initialCapacity int) *RingBuffer {
	if initialCapacity <= 0 {
		initialCapacity = defaultRingCapacity
	}
	Check(initialCapacity&(initialCapacity-1) == 0, "ring buffer capacity must be a power of two")
	return &RingBuffer{data: make([]byte, initialCapacity)}
}

// Len returns the number of bytes currently stored.
func (r *RingBuffer) Len() int { return r.used }

// Cap returns the size of the backing array.
func (r *RingBuffer) Cap() int { return len(r.data) }

// Empty reports whether the buffer holds no bytes.
func (r *RingBuffer) Empty() bool { return r.used == 0 }

// At returns the i-th stored byte, with 0 being the oldest.
func (r *RingBuffer) At(i int) byte {
	return r.data[(r.first+i)&(len(r.data)-1)]
}

// SetAt overwrites the i-th stored byte.
func (r *RingBuffer) SetAt(i int, v byte) {
	r.data[(r.first+i)&(len(r.data)-1)] = v
}

// Push reserves pushSize bytes at the end of the queue for the caller to
// fill in. head is always valid (1..pushSize bytes); tail is non-nil only
// when the reserved region wraps around the end of the backing array, in
// which case len(head)+len(tail) == pushSize.
func (r *RingBuffer) Push(pushSize int) (head, tail []byte) {
	if r.used+pushSize > len(r.data) {
		newSize := len(r.data) << 1
		for newSize > 0 && r.used+pushSize > newSize {
			newSize <<= 1
		}
		Check(newSize > 0, "ring buffer overflow")
		r.resize(newSize)
	}

	end := (r.first + r.used) & (len(r.data) - 1)
	r.used += pushSize
	return r.viewFrom(end, pushSize)
}

// PushCont reserves pushSize contiguous bytes, compacting the buffer if the
// reserved region would otherwise wrap.
func (r *RingBuffer) PushCont(pushSize int) []byte {
	if r.used+pushSize > len(r.data) {
		head, tail := r.Push(pushSize)
		Check(tail == nil, "push after resize must be contiguous")
		return head
	}

	end := (r.first + r.used) & (len(r.data) - 1)
	if end+pushSize <= len(r.data) {
		r.used += pushSize
		return r.data[end : end+pushSize]
	}

	copy(r.data, r.data[r.first:r.first+r.used])
	r.first = 0
	end = r.used
	r.used += pushSize
	return r.data[end : end+pushSize]
}

// FreeCont returns the size of the contiguous free region that starts right
// after the stored bytes, without triggering a resize. When the stored
// bytes do not wrap, free space before them is not counted.
func (r *RingBuffer) FreeCont() int {
	if r.Empty() {
		return len(r.data)
	}
	end := (r.first + r.used) & (len(r.data) - 1)
	if r.first < end {
		return len(r.data) - end
	}
	return r.first - end
}

// PushFree reserves and returns the contiguous free chunk that starts right
// after the stored bytes (up to the end of the backing array or to the
// oldest byte), growing the buffer (doubling it) only when it is
// completely full.
func (r *RingBuffer) PushFree() []byte {
	if r.used == len(r.data) {
		newSize := len(r.data) << 1
		Check(newSize > 0, "ring buffer overflow")
		r.resize(newSize)
	}

	end := (r.first + r.used) & (len(r.data) - 1)
	free := len(r.data) - r.used
	if end+free > len(r.data) {
		free = len(r.data) - end
	}

	r.used += free
	return r.data[end : end+free]
}

// Write reserves len(src) bytes and copies src into them.
func (r *RingBuffer) Write(src []byte) {
	end := (r.first + r.used) & (len(r.data) - 1)
	if r.used+len(src) <= len(r.data) && end+len(src) <= len(r.data) {
		copy(r.data[end:], src)
		r.used += len(src)
		return
	}
	head, tail := r.Push(len(src))
	copy(head, src)
	if tail != nil {
		copy(tail, src[len(head):])
	}
}

// WriteI8 reserves and writes a signed 8-bit integer.
func (r *RingBuffer) WriteI8(v int8) { r.Write([]byte{byte(v)}) }

// WriteU8 reserves and writes an unsigned 8-bit integer.
func (r *RingBuffer) WriteU8(v uint8) { r.Write([]byte{v}) }

// WriteI16 reserves and writes a little-endian signed 16-bit integer.
func (r *RingBuffer) WriteI16(v int16) {
	var b [2]byte
	WriteI16(v, b[:])
	r.Write(b[:])
}

// WriteU16 reserves and writes a little-endian unsigned 16-bit integer.
func (r *RingBuffer) WriteU16(v uint16) {
	var b [2]byte
	WriteU16(v, b[:])
	r.Write(b[:])
}

// WriteI32 reserves and writes a little-endian signed 32-bit integer.
func (r *RingBuffer) WriteI32(v int32) {
	var b [4]byte
	WriteI32(v, b[:])
	r.Write(b[:])
}

// WriteU32 reserves and writes a little-endian unsigned 32-bit integer.
func (r *RingBuffer) WriteU32(v uint32) {
	var b [4]byte
	WriteU32(v, b[:])
	r.Write(b[:])
}

// Unpush releases size bytes from the end of the queue, undoing part of a
// previous Push whose exact size was not known in advance.
func (r *RingBuffer) Unpush(size int) {
	Check(size <= r.used, "unpush beyond used region")
	r.used -= size
	if r.used == 0 {
		r.first = 0
	}
}

// Front returns a view of the first size bytes of the queue, without
// removing them. As with Push, tail is non-nil only if the region wraps.
func (r *RingBuffer) Front(size int) (head, tail []byte) {
	Check(size <= r.used, "front beyond used region")
	return r.viewFrom(r.first, size)
}

// Next returns the next contiguous used region, or nil if the buffer is
// empty. Repeating Next/Pop twice drains the whole buffer.
func (r *RingBuffer) Next() []byte {
	if r.Empty() {
		return nil
	}
	if r.first+r.used > len(r.data) {
		return r.data[r.first:]
	}
	return r.data[r.first : r.first+r.used]
}

// Pop discards the first size bytes of the queue.
func (r *RingBuffer) Pop(size int) {
	Check(size <= r.used, "pop beyond used region")
	r.used -= size
	if r.used == 0 {
		r.first = 0
	} else {
		r.first = (r.first + size) & (len(r.data) - 1)
	}
}

// Read removes and copies the first len(dst) bytes of the queue into dst.
func (r *RingBuffer) Read(dst []byte) {
	Check(len(dst) <= r.used, "read beyond used region")
	if r.first+len(dst) <= len(r.data) {
		copy(dst, r.data[r.first:r.first+len(dst)])
	} else {
		head, tail := r.Front(len(dst))
		copy(dst, head)
		if tail != nil {
			copy(dst[len(head):], tail)
		}
	}
	r.Pop(len(dst))
}

// ReadI8 removes and returns a signed 8-bit integer.
func (r *RingBuffer) ReadI8() int8 { var b [1]byte; r.Read(b[:]); return ReadI8(b[:]) }

// ReadU8 removes and returns an unsigned 8-bit integer.
func (r *RingBuffer) ReadU8() uint8 { var b [1]byte; r.Read(b[:]); return ReadU8(b[:]) }

// ReadI16 removes and returns a little-endian signed 16-bit integer.
func (r *RingBuffer) ReadI16() int16 { var b [2]byte; r.Read(b[:]); return ReadI16(b[:]) }

// ReadU16 removes and returns a little-endian unsigned 16-bit integer.
func (r *RingBuffer) ReadU16() uint16 { var b [2]byte; r.Read(b[:]); return ReadU16(b[:]) }

// ReadI32 removes and returns a little-endian signed 32-bit integer.
func (r *RingBuffer) ReadI32() int32 { var b [4]byte; r.Read(b[:]); return ReadI32(b[:]) }

// ReadU32 removes and returns a little-endian unsigned 32-bit integer.
func (r *RingBuffer) ReadU32() uint32 { var b [4]byte; r.Read(b[:]); return ReadU32(b[:]) }

// Clear resets the queue to empty without releasing the backing array.
func (r *RingBuffer) Clear() {
	r.used = 0
	r.first = 0
}

func (r *RingBuffer) viewFrom(start, size int) (head, tail []byte) {
	if start+size <= len(r.data) {
		return r.data[start : start+size], nil
	}
	firstPiece := len(r.data) - start
	return r.data[start:], r.data[:size-firstPiece]
}

func (r *RingBuffer) resize(newSize int) {
	newData := make([]byte, newSize)
	if r.first+r.used <= len(r.data) {
		copy(newData, r.data[r.first:r.first+r.used])
	} else {
		firstHalf := len(r.data) - r.first
		copy(newData, r.data[r.first:])
		copy(newData[firstHalf:], r.data[:r.used-firstHalf])
	}
	r.data = newData
	r.first = 0
}
