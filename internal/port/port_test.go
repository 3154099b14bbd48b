package port

import (
	"errors"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/sidecar/internal/constants"
)

func TestAllocate_ReturnsBindablePort(t *testing.T) {
	for i := 0; i < 5; i++ {
		p, err := Allocate()
		require.NoError(t, err)
		require.NotZero(t, p)

		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(p))))
		require.NoError(t, err, "allocated port %d should be bindable", p)
		_ = ln.Close()
	}
}

func TestAllocateWith_SkipsBusyCandidate(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	busyPort := uint16(busy.Addr().(*net.TCPAddr).Port)

	free, err := OSHint()
	require.NoError(t, err)

	calls := 0
	hint := func() (uint16, error) {
		calls++
		if calls == 1 {
			return busyPort, nil
		}
		return free, nil
	}

	p, err := AllocateWith(hint)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NotEqual(t, busyPort, p)
}

func TestAllocateWith_FallsBackAfterAttempts(t *testing.T) {
	calls := 0
	hint := func() (uint16, error) {
		calls++
		return 0, errors.New("hint source unavailable")
	}

	p, err := AllocateWith(hint)
	require.NoError(t, err)
	assert.NotZero(t, p)
	assert.Equal(t, constants.PortAttempts, calls)
	assert.True(t, IsBindable(p))
}

func TestIsBindable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	held := uint16(ln.Addr().(*net.TCPAddr).Port)

	assert.False(t, IsBindable(held), "port held by a listener")
	require.NoError(t, ln.Close())
	assert.True(t, IsBindable(held), "port after release")
}
