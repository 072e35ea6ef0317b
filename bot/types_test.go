package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationUnmarshal(t *testing.T) {
	for in, want := range map[string]time.Duration{
		"300":   5 * time.Minute,
		"30":    30 * time.Second,
		"1h30m": 90 * time.Minute,
		" 24h ": 24 * time.Hour,
	} {
		var d Duration
		require.NoError(t, d.UnmarshalText([]byte(in)), in)
		assert.Equal(t, want, d.Duration, in)
	}

	var d Duration
	assert.ErrorIs(t, d.UnmarshalText([]byte("soon")), ErrInvalidArguments)
	assert.ErrorIs(t, d.UnmarshalText([]byte("-5")), ErrInvalidArguments)
}

func TestExpired(t *testing.T) {
	ttl := &Duration{Duration: time.Minute}
	assert.True(t, Expired(time.Now().Add(-2*time.Minute), ttl))
	assert.False(t, Expired(time.Now(), ttl))
	assert.False(t, Expired(time.Now().Add(-time.Hour), nil))
	assert.False(t, Expired(time.Now().Add(-time.Hour), &Duration{}))
}
