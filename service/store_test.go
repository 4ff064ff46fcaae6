package service

import (
	"testing"
	"time"

	"github.com/IoavM/marcasagua/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(ttl time.Duration, maxSessions int) (*SessionStore, *time.Time) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	st := NewSessionStore(&config.SessionConfig{TTL: ttl, MaxSessions: maxSessions})
	st.now = func() time.Time { return now }
	return st, &now
}

func TestSessionStoreCreateGetDelete(t *testing.T) {
	st, _ := newTestStore(time.Minute, 4)

	sess, err := st.Create()
	require.NoError(t, err)
	assert.Len(t, sess.ID, 32)
	assert.Equal(t, StateEmpty, sess.State())

	got, err := st.Get(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)

	_, err = st.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.True(t, st.Delete(sess.ID))
	assert.False(t, st.Delete(sess.ID))
	assert.Zero(t, st.Len())
}

func TestSessionStoreLimit(t *testing.T) {
	st, now := newTestStore(time.Minute, 2)

	a, err := st.Create()
	require.NoError(t, err)
	_, err = st.Create()
	require.NoError(t, err)
	_, err = st.Create()
	assert.ErrorIs(t, err, ErrTooManySessions)

	// 过期会话在创建时清理
	*now = now.Add(2 * time.Minute)
	_, err = st.Create()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Len())

	_, err = st.Get(a.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStoreGetRefreshesTTL(t *testing.T) {
	st, now := newTestStore(time.Minute, 2)

	sess, err := st.Create()
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		*now = now.Add(40 * time.Second)
		_, err = st.Get(sess.ID)
		require.NoError(t, err, "access %d", i)
	}

	*now = now.Add(61 * time.Second)
	_, err = st.Get(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Zero(t, st.Len())
}

func TestSessionStoreKeepsProcessingSessions(t *testing.T) {
	st, now := newTestStore(time.Minute, 2)

	sess, err := st.Create()
	require.NoError(t, err)
	sess.state.Store(int32(StateProcessing))

	*now = now.Add(time.Hour)
	_, err = st.Get(sess.ID)
	assert.NoError(t, err)
}
