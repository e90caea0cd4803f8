package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sendrec/cueplayer/internal/cuepoint"
	"github.com/sendrec/cueplayer/internal/languages"
	"github.com/sendrec/cueplayer/internal/playback"
	"github.com/sendrec/cueplayer/internal/transcript"
	"github.com/sendrec/cueplayer/internal/validate"
)

const DefaultIdleTimeout = 30 * time.Minute

type ManagerConfig struct {
	Scheduler   playback.Scheduler
	Source      transcript.Source
	Store       CuepointStore
	Catalog     *languages.Catalog
	Cuepoints   cuepoint.Config
	LoadTimeout time.Duration
	IdleTimeout time.Duration
	Now         func() time.Time
}

// CreateOptions describe a new session.
type CreateOptions struct {
	VideoID  string
	Language string
	Client   ClientInfo
}

// Manager owns the live sessions.
type Manager struct {
	cfg ManagerConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Cuepoints == (cuepoint.Config{}) {
		cfg.Cuepoints = cuepoint.DefaultConfig()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{cfg: cfg, sessions: make(map[string]*Session)}
}

func (m *Manager) Catalog() *languages.Catalog {
	return m.cfg.Catalog
}

// Create opens a session, loads the video's cuepoints (seeding defaults for
// a video with none) and starts loading the transcript.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*Session, error) {
	if msg := validate.VideoID(opts.VideoID); msg != "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidVideoID, msg)
	}

	language := opts.Language
	if m.cfg.Catalog != nil {
		if language == "" {
			language = m.cfg.Catalog.Default()
		}
		if !m.cfg.Catalog.Supports(language) {
			return nil, fmt.Errorf("create session: %w: %q", ErrUnsupportedLanguage, language)
		}
	}

	initial, err := m.initialCuepoints(ctx, opts.VideoID)
	if err != nil {
		return nil, err
	}

	s := newSession(uuid.NewString(), opts.VideoID, opts.Client, sessionDeps{
		scheduler:   m.cfg.Scheduler,
		source:      m.cfg.Source,
		store:       m.cfg.Store,
		catalog:     m.cfg.Catalog,
		cuepoints:   m.cfg.Cuepoints,
		loadTimeout: m.cfg.LoadTimeout,
	}, m.cfg.Now())
	s.cuepoints.Load(initial)

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	if language != "" {
		if _, err := s.SetLanguage(language); err != nil {
			m.Close(s.id)
			return nil, err
		}
	}

	slog.Info("player: session created", "session_id", s.id, "video_id", opts.VideoID, "language", language, "cuepoints", len(initial))
	return s, nil
}

func (m *Manager) initialCuepoints(ctx context.Context, videoID string) ([]cuepoint.Cuepoint, error) {
	if m.cfg.Store == nil || videoID == "" {
		return cuepoint.Defaults(), nil
	}

	stored, err := m.cfg.Store.List(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("load cuepoints for %s: %w", videoID, err)
	}
	if len(stored) > 0 {
		return stored, nil
	}

	seeds := cuepoint.Defaults()
	if err := m.cfg.Store.InsertAll(ctx, videoID, seeds); err != nil {
		return nil, fmt.Errorf("seed cuepoints for %s: %w", videoID, err)
	}
	return seeds, nil
}

// Get returns a live session and marks it active.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	s.touch(m.cfg.Now())
	return s, true
}

// Close ends a session. It reports false when the session is unknown.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.Close()
	return true
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Reap closes sessions idle for longer than the idle timeout.
func (m *Manager) Reap() int {
	now := m.cfg.Now()

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.idleFor(now) > m.cfg.IdleTimeout {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Close()
	}
	return len(expired)
}

// StartReaper runs Reap every interval until ctx is done.
func (m *Manager) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Reap(); n > 0 {
					slog.Info("player: reaped idle sessions", "count", n, "remaining", m.Len())
				}
			}
		}
	}()
}

// Shutdown closes every session and waits for their transcript loads to
// return.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	for _, s := range sessions {
		s.loads.Wait()
	}
}
