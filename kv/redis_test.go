package kv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRedisStore_Defaults(t *testing.T) {
	s := NewRedisStore(nil)

	assert.Equal(t, "dexgate", s.prefix)
	assert.Equal(t, 5*time.Minute, s.windowRetention)
}

func TestNewRedisStore_Options(t *testing.T) {
	// Window counter keys must outlive both buckets of the
	// sliding window, so callers size the retention off the
	// configured window.
	s := NewRedisStore(nil,
		WithWindowRetention(2*10*time.Minute),
		WithPrefix("gw:"),
	)

	assert.Equal(t, 20*time.Minute, s.windowRetention)
	assert.Equal(t, "gw", s.prefix)
	assert.Equal(t, "gw:w:client-a:/api:60000", s.key("w", "client-a:/api", "60000"))
}
