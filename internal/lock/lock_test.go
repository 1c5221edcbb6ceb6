package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilLockerGrantsLease(t *testing.T) {
	var l *Locker
	token, ok, err := l.TryLock(context.Background(), "job:invariant_check", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, token)
	assert.False(t, l.Enabled())
	assert.NoError(t, l.Release(context.Background(), "job:invariant_check", token))
}

func TestTryLockValidatesArguments(t *testing.T) {
	var l *Locker
	_, _, err := l.TryLock(context.Background(), "", time.Minute)
	assert.ErrorIs(t, err, ErrEmptyKey)

	_, _, err = l.TryLock(context.Background(), "job", 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestNewLockerWithoutClient(t *testing.T) {
	assert.Nil(t, NewLocker(nil, "escrowd:lock:"))
}
