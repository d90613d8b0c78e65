package ratelimit

import (
	"context"
	"testing"
	"time"

	"zapcast/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowBurstOfOne(t *testing.T) {
	l := New(3)

	assert.True(t, l.Allow("default"), "first grant should be immediate")
	assert.False(t, l.Allow("default"), "second grant must wait for refill")
}

func TestChannelsAreIndependent(t *testing.T) {
	l := New(3)

	assert.True(t, l.Allow("sms"))
	assert.True(t, l.Allow("whatsapp"), "a drained channel must not affect another")
	assert.False(t, l.Allow("sms"))
}

func TestCapSpacesGrantsAcrossTheMinute(t *testing.T) {
	l := New(3)

	// First send goes out immediately on the burst token.
	require.True(t, l.Allow("default"))

	// Reserve the next three grants without sleeping. At three sends per
	// minute the bucket refills one token every twenty seconds, so the
	// fourth send cannot leave until a full minute after the first.
	l.mu.Lock()
	lim := l.channels["default"]
	l.mu.Unlock()

	second := lim.Reserve()
	third := lim.Reserve()
	fourth := lim.Reserve()

	assert.GreaterOrEqual(t, second.Delay(), 19*time.Second)
	assert.GreaterOrEqual(t, third.Delay(), 39*time.Second)
	assert.GreaterOrEqual(t, fourth.Delay(), 59*time.Second)
	assert.LessOrEqual(t, fourth.Delay(), 61*time.Second)
}

func TestAcquireFirstGrantImmediate(t *testing.T) {
	l := New(3)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "default"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestAcquireBlocksAndHonoursContext(t *testing.T) {
	l := New(1) // one send per minute; the second grant is a long way off

	require.NoError(t, l.Acquire(context.Background(), "default"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx, "default")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeRateLimit))
}

func TestAcquireAfterCloseFailsClosed(t *testing.T) {
	l := New(100)
	l.Close()

	err := l.Acquire(context.Background(), "default")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeRateLimit))
	assert.False(t, l.Allow("default"))
}

func TestSetRateAppliesToExistingChannels(t *testing.T) {
	l := New(1)

	require.NoError(t, l.Acquire(context.Background(), "default"))
	assert.Greater(t, l.NextDelay("default"), 10*time.Second)

	// Raising the cap shrinks the wait for the next grant.
	l.SetRate(60000)
	assert.Less(t, l.NextDelay("default"), time.Second)
}

func TestNextDelayUnknownChannel(t *testing.T) {
	l := New(3)
	assert.Equal(t, time.Duration(0), l.NextDelay("never-seen"))
}
