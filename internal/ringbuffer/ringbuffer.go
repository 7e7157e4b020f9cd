// Package ringbuffer bridges the DSP worker and the real-time audio callback.
package ringbuffer

import "sync"

// RingBuffer is a concurrent-safe ring buffer for float32 audio samples.
//
// Writes never block: when the incoming block does not fit, the oldest unread
// samples are discarded. Reads never block either and return whatever is
// available, leaving silence padding to the caller.
type RingBuffer struct {
	mu         sync.Mutex
	buf        []float32
	mask       uint64
	readIndex  uint64
	writeIndex uint64
	dropped    uint64
}

// New creates a new RingBuffer holding at least size samples. The capacity
// is rounded up to the next power of two.
func New(size int) *RingBuffer {
	capacity := nextPowerOfTwo(size)
	return &RingBuffer{
		buf:  make([]float32, capacity),
		mask: uint64(capacity - 1),
	}
}

// Capacity returns the number of samples the buffer can hold.
func (rb *RingBuffer) Capacity() int {
	return len(rb.buf)
}

// AvailableRead returns the number of samples available for reading.
func (rb *RingBuffer) AvailableRead() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return int(rb.writeIndex - rb.readIndex)
}

// AvailableWrite returns the number of samples that fit without dropping.
func (rb *RingBuffer) AvailableWrite() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.buf) - int(rb.writeIndex-rb.readIndex)
}

// Dropped returns the total number of samples discarded by overflow, whether
// unread ones or the head of a write larger than the buffer.
func (rb *RingBuffer) Dropped() uint64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.dropped
}

// Write stores data and returns the number of samples accepted. If data is
// larger than the whole buffer only its newest Capacity() samples are kept.
func (rb *RingBuffer) Write(data []float32) int {
	capacity := uint64(len(rb.buf))
	var truncated uint64
	if uint64(len(data)) > capacity {
		truncated = uint64(len(data)) - capacity
		data = data[truncated:]
	}
	n := uint64(len(data))
	if n == 0 {
		return 0
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.dropped += truncated
	used := rb.writeIndex - rb.readIndex
	if free := capacity - used; n > free {
		rb.readIndex += n - free
		rb.dropped += n - free
	}

	// Copy in one or two chunks.
	start := rb.writeIndex & rb.mask
	written := uint64(copy(rb.buf[start:], data))
	if written < n {
		copy(rb.buf, data[written:])
	}
	rb.writeIndex += n
	return int(n)
}

// Read copies up to len(dst) samples into dst and returns how many were copied.
func (rb *RingBuffer) Read(dst []float32) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := rb.writeIndex - rb.readIndex
	if uint64(len(dst)) < n {
		n = uint64(len(dst))
	}
	if n == 0 {
		return 0
	}

	start := rb.readIndex & rb.mask
	read := uint64(copy(dst[:n], rb.buf[start:]))
	if read < n {
		copy(dst[read:n], rb.buf)
	}
	rb.readIndex += n
	return int(n)
}

// Reset discards all buffered samples.
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.readIndex = rb.writeIndex
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
