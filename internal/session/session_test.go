package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetOrCreate(t *testing.T) {
	m := NewManager()

	a := m.GetOrCreate("user:a@x.com")
	assert.Same(t, a, m.GetOrCreate("user:a@x.com"))
	assert.Nil(t, m.Get("user:b@x.com"))

	m.Delete("user:a@x.com")
	assert.Nil(t, m.Get("user:a@x.com"))
	m.Delete("user:a@x.com")
}

func TestBeginReplacesInFlight(t *testing.T) {
	m := NewManager()
	s := m.GetOrCreate("k")

	first, doneFirst := s.Begin(context.Background())
	assert.True(t, s.IsLoading())

	second, doneSecond := s.Begin(context.Background())
	assert.ErrorIs(t, first.Err(), context.Canceled)
	assert.NoError(t, second.Err())

	doneFirst()
	assert.True(t, s.IsLoading(), "a superseded send does not clear the newer one")
	assert.NoError(t, second.Err())

	doneSecond()
	assert.False(t, s.IsLoading())
	assert.ErrorIs(t, second.Err(), context.Canceled)
	assert.Nil(t, m.Get("k"), "an idle session is forgotten")
}

func TestManagerBegin_ReleasesIdleSessions(t *testing.T) {
	m := NewManager()

	first, doneFirst := m.Begin(context.Background(), "local:tab-1")
	_, doneOther := m.Begin(context.Background(), "local:tab-2")
	assert.Len(t, m.sessions, 2)

	second, doneSecond := m.Begin(context.Background(), "local:tab-1")
	assert.ErrorIs(t, first.Err(), context.Canceled)

	doneFirst()
	assert.True(t, m.IsLoading("local:tab-1"), "a superseded send keeps the session")
	assert.NoError(t, second.Err())

	doneSecond()
	doneOther()
	assert.Empty(t, m.sessions)
}

func TestManagerBegin_ReleasesStoppedSession(t *testing.T) {
	m := NewManager()

	_, done := m.Begin(context.Background(), "k")
	assert.True(t, m.Stop("k"))
	assert.NotNil(t, m.Get("k"), "kept until the send unwinds")

	done()
	assert.Empty(t, m.sessions)
}

func TestStop(t *testing.T) {
	m := NewManager()
	assert.False(t, m.Stop("k"))

	s := m.GetOrCreate("k")
	ctx, done := s.Begin(context.Background())
	defer done()

	assert.True(t, m.IsLoading("k"))
	assert.True(t, m.Stop("k"))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.False(t, m.IsLoading("k"))
	assert.False(t, m.Stop("k"))
}

func TestParentCancellationPropagates(t *testing.T) {
	s := NewManager().GetOrCreate("k")
	parent, cancel := context.WithCancel(context.Background())

	ctx, done := s.Begin(parent)
	defer done()

	cancel()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
