package sandbox

import (
	"sync"
)

// capBuffer is a fixed-size circular byte buffer. Commands like `yes` or a
// large cat cannot exhaust memory; when full, the oldest bytes are dropped.
type capBuffer struct {
	buf  []byte
	size int
	head int
	tail int
	full bool
	mu   sync.Mutex
}

func newCapBuffer(size int) *capBuffer {
	if size <= 0 {
		size = 64 * 1024
	}
	return &capBuffer{buf: make([]byte, size), size: size}
}

// Write implements io.Writer; when full it overwrites the oldest data.
func (cb *capBuffer) Write(p []byte) (int, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	for _, b := range p {
		if cb.full {
			cb.tail = (cb.tail + 1) % cb.size
		}
		cb.buf[cb.head] = b
		cb.head = (cb.head + 1) % cb.size
		if cb.head == cb.tail {
			cb.full = true
		}
	}
	return len(p), nil
}

// String returns the retained contents in order.
func (cb *capBuffer) String() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.full && cb.head == cb.tail {
		return ""
	}
	if cb.full && cb.head == cb.tail {
		return string(cb.buf[cb.tail:]) + string(cb.buf[:cb.tail])
	}
	if cb.head > cb.tail {
		return string(cb.buf[cb.tail:cb.head])
	}
	return string(cb.buf[cb.tail:]) + string(cb.buf[:cb.head])
}
