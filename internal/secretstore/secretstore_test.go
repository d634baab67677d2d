package secretstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	s := New(nil)
	t.Cleanup(s.Close)

	require.NoError(t, s.Set(SlotOwner, []byte("hunter2")))
	got, n := s.Get(SlotOwner)
	assert.Equal(t, []byte("hunter2"), got)
	assert.Equal(t, 7, n)
}

func TestGetUnsetSlotIsZeroNotError(t *testing.T) {
	s := New(nil)
	t.Cleanup(s.Close)

	got, n := s.Get(SlotLockout)
	assert.Nil(t, got)
	assert.Equal(t, 0, n)
	assert.False(t, s.IsSet(SlotLockout))
}

func TestSetEmptyValueIsStillSet(t *testing.T) {
	s := New(nil)
	t.Cleanup(s.Close)

	require.NoError(t, s.Set(SlotPassphrase, []byte{}))
	assert.True(t, s.IsSet(SlotPassphrase))
	got, n := s.Get(SlotPassphrase)
	assert.Empty(t, got)
	assert.Equal(t, 0, n)
}

func TestSetTruncatesAndWarns(t *testing.T) {
	var warnedSlot Slot
	var warnedLen int
	s := New(func(slot Slot, truncatedTo int) {
		warnedSlot = slot
		warnedLen = truncatedTo
	})
	t.Cleanup(s.Close)

	long := []byte(strings.Repeat("x", MaxAuthLen+10))
	require.NoError(t, s.Set(SlotPrimaryKey, long))

	got, n := s.Get(SlotPrimaryKey)
	assert.Len(t, got, MaxAuthLen)
	assert.Equal(t, MaxAuthLen, n)
	assert.Equal(t, SlotPrimaryKey, warnedSlot)
	assert.Equal(t, MaxAuthLen, warnedLen)
}

func TestInteractiveAndNoDAFlags(t *testing.T) {
	s := New(nil)
	t.Cleanup(s.Close)

	assert.False(t, s.Interactive())
	assert.False(t, s.NoDA())

	s.SetInteractive(true)
	s.SetNoDA(true)
	assert.True(t, s.Interactive())
	assert.True(t, s.NoDA())
}

func TestCloseWipesEverySlot(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Set(SlotOwner, []byte("secret")))

	s.Close()

	assert.False(t, s.IsSet(SlotOwner))
	got, n := s.Get(SlotOwner)
	assert.Nil(t, got)
	assert.Equal(t, 0, n)
}

func TestSetOverwritesPreviousValue(t *testing.T) {
	s := New(nil)
	t.Cleanup(s.Close)

	require.NoError(t, s.Set(SlotOwner, []byte("first")))
	require.NoError(t, s.Set(SlotOwner, []byte("second")))

	got, _ := s.Get(SlotOwner)
	assert.Equal(t, []byte("second"), got)
}
