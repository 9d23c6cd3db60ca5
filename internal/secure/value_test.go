package secure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueUse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{name: "password", data: "super-secret-data"},
		{name: "binary", data: string([]byte{0x00, 0xFF, 0x10, 0x20})},
		{name: "empty", data: ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v := FromString(tt.data)
			defer v.Destroy()

			assert.Equal(t, len(tt.data), v.Len())
			assert.Equal(t, tt.data == "", v.Empty())

			var got string
			require.NoError(t, v.Use(func(b []byte) error {
				got = string(b)
				return nil
			}))
			assert.Equal(t, tt.data, got)
		})
	}
}

func TestNewValueWipesSource(t *testing.T) {
	t.Parallel()

	src := []byte("hunter2-hunter2")
	v := NewValue(src)
	defer v.Destroy()

	assert.Equal(t, make([]byte, len(src)), src)
	require.NoError(t, v.Use(func(b []byte) error {
		assert.Equal(t, "hunter2-hunter2", string(b))
		return nil
	}))
}

func TestValueDestroy(t *testing.T) {
	t.Parallel()

	v := FromString("secret")
	v.Destroy()
	v.Destroy()

	err := v.Use(func([]byte) error {
		t.Fatal("callback must not run after destroy")
		return nil
	})
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestValueUsePropagatesError(t *testing.T) {
	t.Parallel()

	v := FromString("secret")
	defer v.Destroy()

	err := v.Use(func([]byte) error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)
}
