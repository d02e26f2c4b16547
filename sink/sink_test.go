package sink

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferAccumulates(t *testing.T) {
	var b Buffer
	_, err := b.Write([]byte("hello "))
	assert.NoError(t, err)
	_, err = b.Write([]byte("world"))
	assert.NoError(t, err)
	assert.Equal(t, "hello world", b.String())
	assert.Equal(t, []byte("hello world"), b.Bytes())
}

func TestBufferReset(t *testing.T) {
	var b Buffer
	_, _ = b.Write([]byte("stale"))
	b.Reset()
	assert.Equal(t, "", b.String())
}
