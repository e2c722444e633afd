package liveness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeOrZero(t *testing.T) {
	assert.True(t, timeOrZero(nil).IsZero())

	now := time.Now()
	assert.Equal(t, now, timeOrZero(&now))
}
