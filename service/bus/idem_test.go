package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdem_SeenOnceAndClose(t *testing.T) {
	i := NewIdem(time.Minute)
	assert.False(t, i.SeenOnce("k"))
	assert.True(t, i.SeenOnce("k"))

	i.Close()
	assert.NotPanics(t, i.Close)

	// The set keeps answering after the cleanup goroutine stops.
	assert.False(t, i.SeenOnce("k2"))
}
