package service

import (
	"sync"
	"time"

	"github.com/IoavM/marcasagua/config"
	"github.com/IoavM/marcasagua/utils"
	"go.uber.org/zap"
)

// SessionStore 内存中的会话表，过期会话在访问时惰性清理，不做持久化
type SessionStore struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	ttl         time.Duration
	maxSessions int
	now         func() time.Time
}

func NewSessionStore(cfg *config.SessionConfig) *SessionStore {
	return &SessionStore{
		sessions:    make(map[string]*Session),
		ttl:         cfg.TTL,
		maxSessions: cfg.MaxSessions,
		now:         time.Now,
	}
}

// Create 新建会话
func (st *SessionStore) Create() (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.sweepLocked()
	if len(st.sessions) >= st.maxSessions {
		return nil, ErrTooManySessions
	}

	sess := NewSession(utils.NewSessionID())
	sess.CreatedAt = st.now()
	sess.lastUsed = sess.CreatedAt
	st.sessions[sess.ID] = sess
	return sess, nil
}

// Get 获取会话并刷新过期时间
func (st *SessionStore) Get(id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if st.expired(sess) {
		delete(st.sessions, id)
		return nil, ErrSessionNotFound
	}
	sess.lastUsed = st.now()
	return sess, nil
}

// Delete 删除会话
func (st *SessionStore) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	_, ok := st.sessions[id]
	delete(st.sessions, id)
	return ok
}

func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

func (st *SessionStore) expired(sess *Session) bool {
	// 处理中的会话不过期
	if sess.State() == StateProcessing {
		return false
	}
	return st.ttl > 0 && st.now().Sub(sess.lastUsed) > st.ttl
}

func (st *SessionStore) sweepLocked() {
	for id, sess := range st.sessions {
		if st.expired(sess) {
			delete(st.sessions, id)
			utils.Logger.Debug("session expired", zap.String("session", id))
		}
	}
}
