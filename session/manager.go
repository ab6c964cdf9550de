package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/room4-2/voicebank/config"
	"github.com/room4-2/voicebank/logging"
)

const (
	pairKeyPrefix  = "session:"
	activePairsKey = "active_sessions"
)

// Manager tracks live relay pairs
type Manager struct {
	pairs  map[string]*Pair
	mu     sync.RWMutex
	redis  *redis.Client
	config *config.Config
	dialer Dialer
	logger *zap.Logger
}

// NewManager creates a manager. Redis is optional: when REDIS_URL is empty or
// unreachable, pair metadata is kept in memory only.
func NewManager(cfg *config.Config, dialer Dialer, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dialer == nil {
		dialer = &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  64 * 1024,
		}
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			// Redis unavailable, continue without it
			logger.Warn("Redis unavailable, pair metadata kept in memory", zap.Error(err))
			_ = redisClient.Close()
			redisClient = nil
		}
	}

	return &Manager{
		pairs:  make(map[string]*Pair),
		redis:  redisClient,
		config: cfg,
		dialer: dialer,
		logger: logger,
	}, nil
}

// CreatePair registers a new relay pair for an upgraded client socket.
// A missing realtime key fails before anything is dialed.
func (m *Manager) CreatePair(ctx context.Context, clientConn *websocket.Conn) (*Pair, error) {
	if m.config.RealtimeAPIKey == "" {
		return nil, ErrNotConfigured
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pairs) >= m.config.MaxSessions {
		return nil, ErrMaxSessions
	}

	pairID := uuid.New().String()

	pair, err := NewPair(pairID, clientConn, m.dialer, PairConfig{
		UpstreamURL:      m.config.RealtimeSocketURL(),
		APIKey:           m.config.RealtimeAPIKey,
		HandshakeTimeout: m.config.HandshakeTimeout,
		MaxPendingBytes:  m.config.MaxPendingBytes,
	}, m.logger)
	if err != nil {
		return nil, err
	}

	m.storePair(ctx, pair)
	return pair, nil
}

// storePair saves a pair to memory and Redis
func (m *Manager) storePair(ctx context.Context, pair *Pair) {
	m.pairs[pair.ID] = pair

	if m.redis != nil {
		key := pairKeyPrefix + pair.ID
		m.redis.HSet(ctx, key, map[string]interface{}{
			"created_at":    pair.CreatedAt.Format(time.RFC3339),
			"last_activity": pair.LastActivity().Format(time.RFC3339),
			"status":        "active",
			"model":         m.config.RealtimeModel,
		})
		m.redis.SAdd(ctx, activePairsKey, pair.ID)
		m.redis.Expire(ctx, key, m.config.SessionTimeout)
	}
}

// GetPair retrieves a pair by ID
func (m *Manager) GetPair(pairID string) (*Pair, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pair, exists := m.pairs[pairID]
	return pair, exists
}

// RemovePair closes and forgets a pair
func (m *Manager) RemovePair(ctx context.Context, pairID string) error {
	m.mu.Lock()
	pair, exists := m.pairs[pairID]
	if !exists {
		m.mu.Unlock()
		return nil
	}
	delete(m.pairs, pairID)
	m.mu.Unlock()

	pair.Close()
	m.forget(ctx, pairID)
	return nil
}

func (m *Manager) forget(ctx context.Context, pairID string) {
	if m.redis != nil {
		m.redis.Del(ctx, pairKeyPrefix+pairID)
		m.redis.SRem(ctx, activePairsKey, pairID)
	}
}

// GetActiveSessionCount returns current pair count
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pairs)
}

// CleanupInactiveSessions closes pairs with no traffic for longer than SESSION_TIMEOUT
func (m *Manager) CleanupInactiveSessions(ctx context.Context) {
	m.mu.Lock()
	now := time.Now()
	var idle []*Pair
	for id, pair := range m.pairs {
		if now.Sub(pair.LastActivity()) > m.config.SessionTimeout {
			idle = append(idle, pair)
			delete(m.pairs, id)
		}
	}
	m.mu.Unlock()

	for _, pair := range idle {
		m.logger.Info("Closing idle pair", zap.String("pair", logging.ShortID(pair.ID)))
		pair.Close()
		m.forget(ctx, pair.ID)
	}
}

// StartCleanupRoutine starts periodic cleanup of inactive pairs
func (m *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all pairs
func (m *Manager) Shutdown() {
	m.mu.Lock()
	pairs := make([]*Pair, 0, len(m.pairs))
	for id, pair := range m.pairs {
		pairs = append(pairs, pair)
		delete(m.pairs, id)
	}
	m.mu.Unlock()

	for _, pair := range pairs {
		pair.Close()
		m.forget(context.Background(), pair.ID)
	}

	if m.redis != nil {
		m.redis.Close()
	}
}
