package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_RegisterKeepsCreatedAt(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return first }

	a, err := svc.Register(ctx, Registration{ID: "agent-aa-bb", Name: "PDV-HOST-LINUX", IPAddress: "10.0.0.2"})
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, a.Status)

	svc.now = func() time.Time { return first.Add(time.Hour) }
	a, err = svc.Register(ctx, Registration{ID: "agent-aa-bb", Name: "PDV-HOST-LINUX", IPAddress: "10.0.0.3"})
	require.NoError(t, err)
	assert.Equal(t, first, a.CreatedAt)

	got, err := svc.GetAgentByID(ctx, "agent-aa-bb")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.3", got.IPAddress)
	assert.Equal(t, first.Add(time.Hour), got.LastSeen)
}

func TestService_StatusTransitions(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	_, err := svc.Register(ctx, Registration{ID: "agent-1"})
	require.NoError(t, err)

	require.NoError(t, svc.MarkOffline(ctx, "agent-1"))
	got, err := svc.GetAgentByID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, got.Status)

	require.NoError(t, svc.Heartbeat(ctx, "agent-1"))
	got, err = svc.GetAgentByID(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, got.Status)

	assert.ErrorIs(t, svc.Heartbeat(ctx, "missing"), ErrAgentNotFound)
}

func TestService_RegisterRequiresID(t *testing.T) {
	_, err := NewService(NewMemoryStore()).Register(context.Background(), Registration{})
	assert.ErrorIs(t, err, ErrInvalidAgentID)
}

func TestService_ListNewestFirstAndDelete(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	base := time.Now()

	svc.now = func() time.Time { return base }
	_, err := svc.Register(ctx, Registration{ID: "old"})
	require.NoError(t, err)
	svc.now = func() time.Time { return base.Add(time.Minute) }
	_, err = svc.Register(ctx, Registration{ID: "new"})
	require.NoError(t, err)

	list, err := svc.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)

	require.NoError(t, svc.DeleteAgent(ctx, "old"))
	assert.ErrorIs(t, svc.DeleteAgent(ctx, "old"), ErrAgentNotFound)
}
