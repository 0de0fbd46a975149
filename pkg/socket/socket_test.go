package socket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// Combinations the stack does not serve must reach the host kernel.
func TestSocketPassthrough(t *testing.T) {
	fd, err := Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, fd, 0)
	assert.NoError(t, Close(fd))
}

func TestReadWritePassthrough(t *testing.T) {
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	defer Close(fds[0])
	defer Close(fds[1])

	msg := []byte("through the kernel")
	n, err := Write(fds[1], msg)
	require.NoError(t, err)
	require.Equal(t, len(msg), n)

	buf := make([]byte, len(msg))
	n, err = Read(fds[0], buf)
	require.NoError(t, err)
	assert.Equal(t, msg, buf[:n])
}

func TestCloseUnknownDescriptor(t *testing.T) {
	assert.Error(t, Close(-1))
}
