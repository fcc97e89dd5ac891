package randx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for range 100 {
		id := SessionID()
		assert.True(t, IsValidSessionID(id))
		_, dup := seen[id]
		assert.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestStreamID(t *testing.T) {
	id := StreamID()
	assert.True(t, strings.HasPrefix(id, "stream_"))
	assert.Len(t, id, len("stream_")+8)
	assert.False(t, IsValidSessionID(id))
}
