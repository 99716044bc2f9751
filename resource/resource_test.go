package resource

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStreamClosed = errors.New("stream closed")

// stream implements ReturnReader only, so Read must go through ReadReturn.
type stream struct {
	mu     sync.Mutex
	r      *strings.Reader
	closed bool
}

func newStream(s string) *stream {
	return &stream{r: strings.NewReader(s)}
}

func (s *stream) ReadReturn(_ context.Context, buf []byte) (int, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, buf, errStreamClosed
	}
	n, err := s.r.Read(buf)
	return n, buf, err
}

func (s *stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

type sink struct {
	Base
	data     []byte
	shutdown bool
}

func (s *sink) Write(_ context.Context, buf []byte) (int, error) {
	s.data = append(s.data, buf...)
	return len(buf), nil
}

func (s *sink) Shutdown(context.Context) error {
	s.shutdown = true
	return nil
}

func (s *sink) BackingFD() (uintptr, bool) { return 7, true }

func TestReadViaReadReturn(t *testing.T) {
	ctx := context.Background()
	s := newStream("hello")

	buf := make([]byte, 8)
	n, err := Read(ctx, s, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestReadReturnHandsBufferBack(t *testing.T) {
	ctx := context.Background()
	s := newStream("abc")

	buf := make([]byte, 4)
	n, out, err := ReadReturn(ctx, s, buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, &buf[0], &out[0])
}

func TestDefaultsAreNotSupported(t *testing.T) {
	ctx := context.Background()
	var r Resource = &kindA{}

	_, err := Read(ctx, r, make([]byte, 1))
	assert.True(t, IsClass(err, ClassNotSupported))

	buf := make([]byte, 1)
	_, out, err := ReadReturn(ctx, r, buf)
	assert.True(t, IsClass(err, ClassNotSupported))
	assert.Len(t, out, 1)

	_, err = Write(ctx, r, []byte("x"))
	assert.True(t, IsClass(err, ClassNotSupported))

	assert.True(t, IsClass(Shutdown(ctx, r), ClassNotSupported))

	_, ok := BackingFD(r)
	assert.False(t, ok)
}

func TestWriterShutdownFD(t *testing.T) {
	ctx := context.Background()
	s := &sink{}

	n, err := Write(ctx, s, []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "data", string(s.data))

	require.NoError(t, Shutdown(ctx, s))
	assert.True(t, s.shutdown)

	fd, ok := BackingFD(s)
	assert.True(t, ok)
	assert.Equal(t, uintptr(7), fd)
}

func TestName(t *testing.T) {
	assert.Equal(t, "*resource.sink", Name(&sink{}))
	assert.Equal(t, "tcp", Name(&kindB{label: "tcp"}))
}

func TestErrorClasses(t *testing.T) {
	tests := []struct {
		err   error
		class string
		text  string
	}{
		{BadResourceID(), ClassBadResource, "(BadResource)-Bad resource ID"},
		{TypeError("invalid utf-8"), ClassTypeError, "(TypeError)-invalid utf-8"},
		{NotSupported(), ClassNotSupported, "(NotSupported)-The operation is not supported"},
		{Errorf("Custom", "code %d", 7), "Custom", "(Custom)-code 7"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.class, ClassOf(tt.err))
		assert.Equal(t, tt.text, tt.err.Error())
	}
}

func TestClassOfWrapped(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), BadResourceID())
	assert.Equal(t, ClassBadResource, ClassOf(wrapped))
	assert.ErrorIs(t, wrapped, &Error{Class: ClassBadResource})
	assert.Equal(t, "", ClassOf(errors.New("plain")))
}
