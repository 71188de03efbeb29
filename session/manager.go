package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/segmentio/ksuid"
)

// Factory 为新会话创建帧来源、提交器等
type Factory func(id string) *Session

// Manager 管理所有会话，定时清理长时间无操作的会话并释放其摄像头
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	factory  Factory
	ttl      time.Duration
	now      func() time.Time
	cron     *cron.Cron
	log      *slog.Logger
}

func NewManager(factory Factory, ttl time.Duration, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		factory:  factory,
		ttl:      ttl,
		now:      time.Now,
		log:      log,
	}
}

func (m *Manager) Create() *Session {
	id := ksuid.New().String()
	s := m.factory(id)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.log.Info("session created", "session", id)
	return s
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.Touch()
	return s, nil
}

func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	return s.Close()
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep 关闭超过 ttl 没有操作的会话，返回关闭的数量
func (m *Manager) Sweep() int {
	if m.ttl <= 0 {
		return 0
	}
	deadline := m.now().Add(-m.ttl)

	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.LastSeen().Before(deadline) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		if err := s.Close(); err != nil {
			m.log.Warn("close expired session", "session", s.ID(), "error", err)
		}
	}
	if len(expired) > 0 {
		m.log.Info("expired sessions swept", "count", len(expired), "remaining", m.Len())
	}
	return len(expired)
}

// Start 按 cron 表达式定期清理，例如 "@every 1m"
func (m *Manager) Start(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { m.Sweep() }); err != nil {
		return err
	}
	m.cron = c
	c.Start()
	return nil
}

// Stop 停止定时清理并关闭所有会话
func (m *Manager) Stop(ctx context.Context) {
	if m.cron != nil {
		select {
		case <-m.cron.Stop().Done():
		case <-ctx.Done():
		}
	}

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
}
