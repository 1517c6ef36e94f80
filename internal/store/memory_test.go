package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/proctor/internal/session"
	"github.com/your-org/proctor/internal/store"
)

func newSession(id string) *session.Session {
	return &session.Session{
		ID:             id,
		CandidateName:  "ada",
		CandidateEmail: "ada@example.com",
		InterviewerID:  "ivr-1",
		StartTime:      time.Now().UTC(),
		Events:         []session.Event{},
	}
}

func TestMemory_GetUnknown(t *testing.T) {
	m := store.NewMemory()
	_, err := m.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemory_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.Insert(ctx, newSession("s1")))

	got, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "ada", got.CandidateName)
}

func TestMemory_UpdateBumpsVersion(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.Insert(ctx, newSession("s1")))

	s, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	s.CandidateID = "cand-1"
	require.NoError(t, m.Update(ctx, s))
	assert.Equal(t, int64(1), s.Version)

	got, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "cand-1", got.CandidateID)
	assert.Equal(t, int64(1), got.Version)
}

func TestMemory_UpdateConflictOnStaleVersion(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, m.Insert(ctx, newSession("s1")))

	first, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	second, err := m.Get(ctx, "s1")
	require.NoError(t, err)

	first.CandidateID = "cand-1"
	require.NoError(t, m.Update(ctx, first))

	second.CandidateID = "cand-2"
	assert.ErrorIs(t, m.Update(ctx, second), store.ErrVersionConflict)

	// The first writer's change survives.
	got, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "cand-1", got.CandidateID)
}

func TestMemory_ReturnedSessionIsIsolated(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	s := newSession("s1")
	s.Events = []session.Event{{Type: session.EventLookingAway, Timestamp: time.Now()}}
	require.NoError(t, m.Insert(ctx, s))

	got, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	got.Events[0].Type = session.EventMultipleFaces
	got.Events = append(got.Events, session.Event{Type: session.EventUserAbsent})

	again, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, again.Events, 1)
	assert.Equal(t, session.EventLookingAway, again.Events[0].Type)
}
