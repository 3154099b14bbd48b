package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecorder_GracefulAndStubborn(t *testing.T) {
	r := NewRecorder()
	r.Spawn(10, 0, "worker")
	r.Spawn(11, 10, "")
	r.IgnoreGraceful(10)

	assert.Equal(t, []int{11}, r.ChildPIDs(10))
	assert.True(t, r.SendGraceful(10))
	assert.True(t, r.IsRunning(10), "stubborn process survives graceful")
	assert.True(t, r.SendGraceful(11))
	assert.False(t, r.IsRunning(11))

	assert.True(t, r.SendForceful(10))
	assert.False(t, r.IsRunning(10))
	assert.False(t, r.SendForceful(10), "already stopped")
}

func TestRecorder_KillByName(t *testing.T) {
	r := NewRecorder()
	r.Spawn(20, 0, "worker")
	r.Spawn(21, 0, "worker")
	r.Exit(21)

	assert.Equal(t, []int{20}, r.FindByName("worker"))
	assert.Equal(t, 1, r.KillByName("worker"))
	assert.Equal(t, 1, r.Count("KillByName"))
	assert.Empty(t, r.FindByName("worker"))
}

func TestWithoutPID(t *testing.T) {
	assert.Equal(t, []int{1, 3}, withoutPID([]int{1, 2, 3, 0}, 2))
}
