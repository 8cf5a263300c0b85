package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrEmpty is returned when a buffer would be created from zero bytes.
var ErrEmpty = errors.New("secure: refusing to protect an empty secret")

// ErrDestroyed is returned by reads on a destroyed buffer.
var ErrDestroyed = errors.New("secure: buffer destroyed")

// Buffer holds one secret inside a memguard enclave.
type Buffer struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	size      int
	destroyed bool
}

// NewBuffer moves data into an enclave. memguard wipes data as part of the
// copy, so the caller's slice is zeroed on return.
func NewBuffer(data []byte) (*Buffer, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	size := len(data)
	return &Buffer{
		enclave: memguard.NewEnclave(data),
		size:    size,
	}, nil
}

// NewBufferFromString copies s into an enclave. The string itself cannot be
// wiped; callers should drop their reference as soon as possible.
func NewBufferFromString(s string) (*Buffer, error) {
	return NewBuffer([]byte(s))
}

// Open decrypts the secret into a locked buffer. The caller must Destroy it.
func (b *Buffer) Open() (*memguard.LockedBuffer, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.destroyed {
		return nil, ErrDestroyed
	}
	return b.enclave.Open()
}

// Reveal returns a plain copy of the secret. Used only at the point where the
// value has to leave the process (a keystroke or the final stdout line).
func (b *Buffer) Reveal() (string, error) {
	lb, err := b.Open()
	if err != nil {
		return "", err
	}
	defer lb.Destroy()
	return string(lb.Bytes()), nil
}

// Len is the secret length in bytes.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.destroyed {
		return 0
	}
	return b.size
}

// Equal reports whether both buffers hold the same bytes, using a
// constant-time comparison.
func (b *Buffer) Equal(other *Buffer) (bool, error) {
	lb, err := b.Open()
	if err != nil {
		return false, err
	}
	defer lb.Destroy()

	ob, err := other.Open()
	if err != nil {
		return false, err
	}
	defer ob.Destroy()

	return lb.EqualTo(ob.Bytes()), nil
}

// Destroy drops the enclave reference. Idempotent.
func (b *Buffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return
	}
	b.enclave = nil
	b.destroyed = true
}

// IsDestroyed reports whether Destroy has been called.
func (b *Buffer) IsDestroyed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.destroyed
}
