package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned when a destroyed Value is used
var ErrDestroyed = errors.New("secret value has been destroyed")

// Value holds one secret encrypted in memory between the moment it is
// generated or entered and the moment it is written to a backend.
type Value struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	size      int
	destroyed bool
}

// NewValue seals data into an enclave. data is wiped.
func NewValue(data []byte) *Value {
	v := &Value{size: len(data)}
	if len(data) > 0 {
		v.enclave = memguard.NewEnclave(data)
	}
	return v
}

// FromString seals a string value
func FromString(s string) *Value {
	return NewValue([]byte(s))
}

// Len returns the plaintext length
func (v *Value) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.size
}

// Empty reports whether the value has no content
func (v *Value) Empty() bool {
	return v.Len() == 0
}

// Use decrypts the value into a locked buffer for the duration of fn.
// The plaintext must not be retained after fn returns.
func (v *Value) Use(fn func(plaintext []byte) error) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.destroyed {
		return ErrDestroyed
	}
	if v.enclave == nil {
		return fn(nil)
	}

	locked, err := v.enclave.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()
	return fn(locked.Bytes())
}

// Destroy drops the enclave. It is safe to call more than once.
func (v *Value) Destroy() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.enclave = nil
	v.destroyed = true
}
