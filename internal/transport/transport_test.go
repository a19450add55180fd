package transport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type opaqueErr struct{ inner error }

func (e opaqueErr) Error() string { return "wrapped" }
func (e opaqueErr) Unwrap() error { return e.inner }

func TestIsNotConnected(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrNotConnected, true},
		{"wrapped", fmt.Errorf("radio: send: %w", ErrNotConnected), true},
		{"text only", errors.New("write failed: Not connected to device"), true},
		{"deep chain", opaqueErr{inner: opaqueErr{inner: errors.New("Not connected")}}, true},
		{"joined", errors.Join(errors.New("other"), fmt.Errorf("x: %w", ErrNotConnected)), true},
		{"case differs", errors.New("not connected"), false},
		{"unrelated", errors.New("timeout"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsNotConnected(tc.err))
		})
	}
}

func TestHandlerBox_EmptyIsSafe(t *testing.T) {
	var b HandlerBox
	b.Bytes([]byte{1})
	b.Log("x")
	b.Dropped(nil)

	var got []byte
	b.Store(Handlers{OnBytes: func(p []byte) { got = p }})
	b.Bytes([]byte{2})
	assert.Equal(t, []byte{2}, got)
}
