package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLeasePolicy(t *testing.T) {
	p, err := NewLeasePolicy(30 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, p.Default())

	_, err = NewLeasePolicy(0)
	assert.ErrorIs(t, err, ErrInvalidDefaultLease)

	_, err = NewLeasePolicy(-time.Second)
	assert.ErrorIs(t, err, ErrInvalidDefaultLease)
}

func TestLeasePolicy_Resolve(t *testing.T) {
	p, err := NewLeasePolicy(45 * time.Second)
	require.NoError(t, err)

	t.Run("explicit", func(t *testing.T) {
		d := p.Resolve(2 * time.Minute)
		assert.Equal(t, 120, d.Seconds)
		assert.Equal(t, LeaseSourceExplicit, d.Source)
	})

	t.Run("default", func(t *testing.T) {
		d := p.Resolve(0)
		assert.Equal(t, 45, d.Seconds)
		assert.Equal(t, LeaseSourceDefault, d.Source)
	})

	t.Run("sub-second clamps", func(t *testing.T) {
		d := p.Resolve(200 * time.Millisecond)
		assert.Equal(t, 1, d.Seconds)
		assert.Equal(t, LeaseSourceClamped, d.Source)
	})

	t.Run("negative clamps", func(t *testing.T) {
		d := p.Resolve(-time.Minute)
		assert.Equal(t, 1, d.Seconds)
		assert.Equal(t, LeaseSourceClamped, d.Source)
	})
}

func TestHeartbeatInterval(t *testing.T) {
	assert.Equal(t, 10*time.Second, HeartbeatInterval(30*time.Second))
	assert.Equal(t, time.Second, HeartbeatInterval(2*time.Second))
	assert.Equal(t, time.Second, HeartbeatInterval(0))
}
