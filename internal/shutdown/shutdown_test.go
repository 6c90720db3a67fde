package shutdown

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndRelease(t *testing.T) {
	m := New()
	ctx, release := m.Register(context.Background())
	require.NoError(t, ctx.Err())
	assert.Len(t, m.active, 1)
	release()
	assert.Len(t, m.active, 0)
}

func TestTriggerShutdownCancelsActiveTokens(t *testing.T) {
	m := New()
	ctx, release := m.Register(context.Background())
	defer release()

	m.triggerShutdown()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not canceled by shutdown trigger")
	}
	assert.True(t, m.IsStopping())
}

func TestRegisterAfterShutdownReturnsCanceledContext(t *testing.T) {
	m := New()
	m.triggerShutdown()

	ctx, release := m.Register(context.Background())
	defer release()
	assert.Error(t, ctx.Err())
}
