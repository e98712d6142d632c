package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionContext(t *testing.T) {
	_, ok := SessionFromContext(context.Background())
	assert.False(t, ok)

	id, ok := SessionFromContext(ContextWithSession(context.Background(), "s1"))
	assert.True(t, ok)
	assert.Equal(t, "s1", id)

	_, ok = SessionFromContext(ContextWithSession(context.Background(), ""))
	assert.False(t, ok)
}
