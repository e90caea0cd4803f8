// Package player hosts playback sessions: one video's transport state, its
// cuepoints and its transcript, driven by position reports from a browser.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/sendrec/cueplayer/internal/cuepoint"
	"github.com/sendrec/cueplayer/internal/languages"
	"github.com/sendrec/cueplayer/internal/playback"
	"github.com/sendrec/cueplayer/internal/transcript"
	"github.com/sendrec/cueplayer/internal/validate"
)

var (
	ErrSessionClosed       = errors.New("session closed")
	ErrSessionNotFound     = errors.New("session not found")
	ErrInvalidVideoID      = errors.New("invalid video id")
	ErrCuepointLimit       = errors.New("cuepoint limit reached")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrInvalidControl      = errors.New("invalid control")
	ErrNoTranscriptSource  = errors.New("no transcript source configured")
	ErrUnknownTrack        = errors.New("unknown track")
)

// Tracks a session plays. The video carries cuepoints and the transcript;
// the podcast is a companion audio element with its own transport.
const (
	TrackVideo   = "video"
	TrackPodcast = "podcast"
)

// CuepointStore persists a video's cuepoints. *cuepoint.Store satisfies it.
type CuepointStore interface {
	List(ctx context.Context, videoID string) ([]cuepoint.Cuepoint, error)
	Insert(ctx context.Context, videoID string, c cuepoint.Cuepoint) error
	InsertAll(ctx context.Context, videoID string, cuepoints []cuepoint.Cuepoint) error
	Update(ctx context.Context, videoID string, c cuepoint.Cuepoint) error
	Delete(ctx context.Context, videoID, id string) error
}

// Controls is the transport as the control bar renders it.
type Controls struct {
	CurrentTime float64  `json:"currentTime"`
	Duration    *float64 `json:"duration"`
	Elapsed     string   `json:"elapsed"`
	Total       string   `json:"total"`
	Progress    float64  `json:"progress"`
	Paused      bool     `json:"paused"`
	Volume      float64  `json:"volume"`
	Slider      float64  `json:"slider"`
	Muted       bool     `json:"muted"`
	Rate        float64  `json:"rate"`
}

// TranscriptView is the transcript panel.
type TranscriptView struct {
	Language   string            `json:"language"`
	Status     transcript.Status `json:"status"`
	Visible    bool              `json:"visible"`
	Resource   string            `json:"resource,omitempty"`
	Cues       []transcript.Cue  `json:"cues"`
	Active     []int             `json:"active"`
	Diagnostic string            `json:"diagnostic,omitempty"`
}

type Snapshot struct {
	ID         string              `json:"id"`
	VideoID    string              `json:"videoId,omitempty"`
	Client     ClientInfo          `json:"client"`
	CreatedAt  time.Time           `json:"createdAt"`
	Controls   Controls            `json:"controls"`
	Podcast    Controls            `json:"podcast"`
	Cuepoints  []cuepoint.Cuepoint `json:"cuepoints"`
	Trigger    cuepoint.State      `json:"trigger"`
	Display    cuepoint.Display    `json:"display"`
	Transcript TranscriptView      `json:"transcript"`
}

// TickInput is one position report from a media element. An empty Track is
// the video.
type TickInput struct {
	Track       string   `json:"track,omitempty"`
	CurrentTime float64  `json:"currentTime"`
	Duration    *float64 `json:"duration"`
	Paused      *bool    `json:"paused"`
}

type TickResult struct {
	Track      string                `json:"track"`
	Controls   Controls              `json:"controls"`
	Fired      *cuepoint.FireEvent   `json:"fired,omitempty"`
	Display    cuepoint.Display      `json:"display"`
	Trigger    cuepoint.State        `json:"trigger"`
	Transcript *transcript.Highlight `json:"transcript,omitempty"`
}

type KeyResult struct {
	Key               string           `json:"key"`
	Command           playback.Command `json:"command"`
	Handled           bool             `json:"handled"`
	Fullscreen        bool             `json:"fullscreen,omitempty"`
	TranscriptVisible bool             `json:"transcriptVisible"`
	Controls          Controls         `json:"controls"`
}

type sessionDeps struct {
	scheduler   playback.Scheduler
	source      transcript.Source
	store       CuepointStore
	catalog     *languages.Catalog
	cuepoints   cuepoint.Config
	loadTimeout time.Duration
}

// Session is one viewer's player. All state changes, including timer
// callbacks and finished transcript loads, happen under mu.
type Session struct {
	mu sync.Mutex

	id        string
	videoID   string
	client    ClientInfo
	createdAt time.Time
	lastSeen  time.Time

	state          playback.State
	podcast        playback.State
	cuepoints      *cuepoint.Engine
	transcript     *transcript.Synchronizer
	showTranscript bool

	source     transcript.Source
	store      CuepointStore
	catalog    *languages.Catalog
	cancelLoad context.CancelFunc
	loads      sync.WaitGroup
	closed     bool
}

func newSession(id, videoID string, client ClientInfo, deps sessionDeps, now time.Time) *Session {
	s := &Session{
		id:        id,
		videoID:   videoID,
		client:    client,
		createdAt: now,
		lastSeen:  now,
		state:     playback.NewState(),
		podcast:   playback.NewState(),
		source:    deps.source,
		store:     deps.store,
		catalog:   deps.catalog,
	}

	scheduler := deps.scheduler
	if scheduler == nil {
		scheduler = playback.WallClock()
	}
	scheduler = playback.Serialized(&s.mu, scheduler)

	cfg := transcript.Config{LoadTimeout: deps.loadTimeout}
	if deps.source != nil {
		cfg.Resource = deps.source.Resource
	}
	s.cuepoints = cuepoint.NewEngine(scheduler, deps.cuepoints)
	s.transcript = transcript.NewSynchronizer(scheduler, cfg)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func (s *Session) controls() Controls {
	return controlsOf(&s.state)
}

func controlsOf(st *playback.State) Controls {
	return Controls{
		CurrentTime: st.CurrentTime,
		Duration:    finite(st.Duration),
		Elapsed:     playback.FormatTime(st.CurrentTime),
		Total:       playback.FormatTime(st.Duration),
		Progress:    st.Progress(),
		Paused:      st.Paused,
		Volume:      st.Volume,
		Slider:      st.SliderValue(),
		Muted:       st.Muted,
		Rate:        st.Rate,
	}
}

func (s *Session) transcriptView() TranscriptView {
	view := TranscriptView{
		Language:   s.transcript.Language(),
		Status:     s.transcript.Status(),
		Visible:    s.showTranscript,
		Cues:       s.transcript.Cues(),
		Active:     s.transcript.ActiveIndices(s.state.CurrentTime),
		Diagnostic: s.transcript.Diagnostic(),
	}
	if view.Cues == nil {
		view.Cues = []transcript.Cue{}
	}
	if s.source != nil && view.Language != "" {
		view.Resource = s.source.Resource(view.Language)
	}
	return view
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		ID:         s.id,
		VideoID:    s.videoID,
		Client:     s.client,
		CreatedAt:  s.createdAt,
		Controls:   s.controls(),
		Podcast:    controlsOf(&s.podcast),
		Cuepoints:  s.cuepoints.List(),
		Trigger:    s.cuepoints.State(),
		Display:    s.cuepoints.Display(),
		Transcript: s.transcriptView(),
	}
}

// track returns the transport for name. Called with mu held.
func (s *Session) track(name string) (*playback.State, error) {
	switch name {
	case "", TrackVideo:
		return &s.state, nil
	case TrackPodcast:
		return &s.podcast, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTrack, name)
}

// Tick records a position report. Video ticks run cuepoint detection and,
// while the panel is shown, transcript highlighting; podcast ticks only
// move the podcast transport.
func (s *Session) Tick(in TickInput) (TickResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return TickResult{}, ErrSessionClosed
	}
	st, err := s.track(in.Track)
	if err != nil {
		return TickResult{}, err
	}

	st.Observe(in.CurrentTime)
	if in.Duration != nil {
		st.SetDuration(*in.Duration)
	}
	if in.Paused != nil {
		st.Paused = *in.Paused
	}

	if st == &s.podcast {
		return TickResult{
			Track:    TrackPodcast,
			Controls: controlsOf(st),
			Display:  s.cuepoints.Display(),
			Trigger:  s.cuepoints.State(),
		}, nil
	}

	result := TickResult{Track: TrackVideo}
	if ev, ok := s.cuepoints.Update(in.CurrentTime); ok {
		result.Fired = &ev
	}
	if s.showTranscript && s.transcript.Status() == transcript.StatusLoaded {
		h := s.transcript.Sync(in.CurrentTime)
		result.Transcript = &h
	}
	result.Controls = s.controls()
	result.Display = s.cuepoints.Display()
	result.Trigger = s.cuepoints.State()
	return result, nil
}

func (s *Session) Cuepoints() []cuepoint.Cuepoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cuepoints.List()
}

func (s *Session) persisted() bool {
	return s.store != nil && s.videoID != ""
}

// AddCuepoint validates and adds a cuepoint, writing it through to the
// store when the session belongs to a stored video.
func (s *Session) AddCuepoint(ctx context.Context, seconds float64, label, content string) (cuepoint.Cuepoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cuepoint.Cuepoint{}, ErrSessionClosed
	}
	if s.cuepoints.Len() >= validate.MaxCuepointsPerSession {
		return cuepoint.Cuepoint{}, fmt.Errorf("add cuepoint: %w (max %d)", ErrCuepointLimit, validate.MaxCuepointsPerSession)
	}

	c, err := s.cuepoints.Add(seconds, label, content)
	if err != nil {
		return cuepoint.Cuepoint{}, err
	}
	if s.persisted() {
		if err := s.store.Insert(ctx, s.videoID, c); err != nil {
			_, _ = s.cuepoints.Remove(c.ID)
			return cuepoint.Cuepoint{}, err
		}
	}
	return c, nil
}

func (s *Session) EditCuepoint(ctx context.Context, id string, changes cuepoint.Changes) (cuepoint.Cuepoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cuepoint.Cuepoint{}, ErrSessionClosed
	}

	before, _ := s.cuepoints.Get(id)
	updated, err := s.cuepoints.Edit(id, changes)
	if err != nil {
		return cuepoint.Cuepoint{}, err
	}
	if s.persisted() {
		if err := s.store.Update(ctx, s.videoID, updated); err != nil {
			_, _ = s.cuepoints.Edit(id, cuepoint.Changes{Time: &before.Time, Label: &before.Label, Content: &before.Content})
			return cuepoint.Cuepoint{}, err
		}
	}
	return updated, nil
}

func (s *Session) RemoveCuepoint(ctx context.Context, id string) (cuepoint.Cuepoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cuepoint.Cuepoint{}, ErrSessionClosed
	}
	return s.removeCuepoint(ctx, id)
}

// RemoveCuepointAt deletes by position in ascending-time order.
func (s *Session) RemoveCuepointAt(ctx context.Context, position int) (cuepoint.Cuepoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cuepoint.Cuepoint{}, ErrSessionClosed
	}

	list := s.cuepoints.List()
	if position < 0 || position >= len(list) {
		return s.cuepoints.RemoveAt(position)
	}
	return s.removeCuepoint(ctx, list[position].ID)
}

func (s *Session) removeCuepoint(ctx context.Context, id string) (cuepoint.Cuepoint, error) {
	if _, ok := s.cuepoints.Get(id); !ok {
		return cuepoint.Cuepoint{}, fmt.Errorf("remove %s: %w", id, cuepoint.ErrNotFound)
	}
	if s.persisted() {
		if err := s.store.Delete(ctx, s.videoID, id); err != nil && !errors.Is(err, cuepoint.ErrNotFound) {
			return cuepoint.Cuepoint{}, err
		}
	}
	return s.cuepoints.Remove(id)
}

// SeekToCuepoint moves playback to a cuepoint's time and resumes it, as
// clicking the cuepoint in the list does.
func (s *Session) SeekToCuepoint(id string) (Controls, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Controls{}, ErrSessionClosed
	}

	c, ok := s.cuepoints.Get(id)
	if !ok {
		return Controls{}, fmt.Errorf("seek to %s: %w", id, cuepoint.ErrNotFound)
	}
	s.state.Seek(c.Time)
	s.state.Play()
	return s.controls(), nil
}

// SetLanguage switches the transcript and caption language. Cues of the
// previous language are cleared immediately.
func (s *Session) SetLanguage(language string) (TranscriptView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return TranscriptView{}, ErrSessionClosed
	}
	if s.catalog != nil && !s.catalog.Supports(language) {
		return TranscriptView{}, fmt.Errorf("set language %q: %w", language, ErrUnsupportedLanguage)
	}

	tok := s.transcript.Switch(language)
	s.startLoad(tok, language)
	return s.transcriptView(), nil
}

func (s *Session) ReloadTranscript() (TranscriptView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return TranscriptView{}, ErrSessionClosed
	}

	language := s.transcript.Language()
	if language == "" && s.catalog != nil {
		language = s.catalog.Default()
	}
	tok := s.transcript.Switch(language)
	s.startLoad(tok, language)
	return s.transcriptView(), nil
}

// startLoad fetches cues for tok in the background. Called with mu held.
func (s *Session) startLoad(tok transcript.Token, language string) {
	if s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}
	if s.source == nil {
		s.transcript.Fail(tok, ErrNoTranscriptSource)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelLoad = cancel
	s.loads.Add(1)

	go func() {
		defer s.loads.Done()
		defer cancel()

		cues, err := s.source.Fetch(ctx, language)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			if s.transcript.Fail(tok, err) {
				slog.Warn("player: transcript load failed", "session_id", s.id, "language", language, "error", err)
			}
			return
		}
		if !s.transcript.Complete(tok, cues) {
			slog.Debug("player: dropped stale transcript load", "session_id", s.id, "language", language)
			return
		}
		slog.Info("player: transcript loaded", "session_id", s.id, "language", language, "cues", len(cues))
	}()
}

func (s *Session) Transcript() TranscriptView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcriptView()
}

// SeekToCue moves playback to the start of a transcript cue and resumes it.
func (s *Session) SeekToCue(index int) (Controls, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Controls{}, ErrSessionClosed
	}

	t, err := s.transcript.SeekTo(index)
	if err != nil {
		return Controls{}, err
	}
	s.state.Seek(t)
	s.state.Play()
	return s.controls(), nil
}

// SetTranscriptVisible shows or hides the panel. A nil value toggles it.
func (s *Session) SetTranscriptVisible(visible *bool) (TranscriptView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return TranscriptView{}, ErrSessionClosed
	}

	if visible == nil {
		s.setTranscriptVisible(!s.showTranscript)
	} else {
		s.setTranscriptVisible(*visible)
	}
	return s.transcriptView(), nil
}

// setTranscriptVisible changes panel visibility. Called with mu held.
func (s *Session) setTranscriptVisible(visible bool) {
	if visible && !s.showTranscript {
		s.transcript.ResetHighlight()
	}
	s.showTranscript = visible
}

// Key dispatches a keyboard shortcut. Fullscreen is reported back for the
// client to perform.
func (s *Session) Key(key string) (KeyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return KeyResult{}, ErrSessionClosed
	}

	cmd := playback.CommandForKey(key)
	result := KeyResult{Key: key, Command: cmd}
	switch cmd {
	case playback.CommandNone:
	case playback.CommandFullscreen:
		result.Handled = true
		result.Fullscreen = true
	case playback.CommandToggleTranscript:
		s.setTranscriptVisible(!s.showTranscript)
		result.Handled = true
	default:
		result.Handled = s.state.Apply(cmd)
	}
	result.TranscriptVisible = s.showTranscript
	result.Controls = s.controls()
	return result, nil
}

// Control actions sent by the control bar.
const (
	ActionPlay         = "play"
	ActionPause        = "pause"
	ActionTogglePlay   = "toggle_play"
	ActionSkipBack     = "skip_back"
	ActionSkipForward  = "skip_forward"
	ActionSeek         = "seek"
	ActionSeekFraction = "seek_fraction"
	ActionVolume       = "volume"
	ActionToggleMute   = "toggle_mute"
	ActionRate         = "rate"
)

// Control applies a control bar action to the video.
func (s *Session) Control(action string, value *float64) (Controls, error) {
	return s.ControlTrack(TrackVideo, action, value)
}

// ControlTrack applies a control bar action to the named track.
func (s *Session) ControlTrack(track, action string, value *float64) (Controls, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Controls{}, ErrSessionClosed
	}
	st, err := s.track(track)
	if err != nil {
		return Controls{}, err
	}

	needValue := func() (float64, error) {
		if value == nil {
			return 0, fmt.Errorf("%w: %s requires a value", ErrInvalidControl, action)
		}
		return *value, nil
	}

	switch action {
	case ActionPlay:
		st.Play()
	case ActionPause:
		st.Pause()
	case ActionTogglePlay:
		st.TogglePlay()
	case ActionSkipBack:
		st.SkipBy(-playback.SkipSeconds)
	case ActionSkipForward:
		st.SkipBy(playback.SkipSeconds)
	case ActionToggleMute:
		st.ToggleMute()
	case ActionSeek, ActionSeekFraction, ActionVolume, ActionRate:
		v, err := needValue()
		if err != nil {
			return Controls{}, err
		}
		switch action {
		case ActionSeek:
			st.Seek(v)
		case ActionSeekFraction:
			st.SeekFraction(v)
		case ActionVolume:
			st.SetVolume(v)
		case ActionRate:
			if err := st.SetRate(v); err != nil {
				return Controls{}, fmt.Errorf("%w: %v", ErrInvalidControl, err)
			}
		}
	default:
		return Controls{}, fmt.Errorf("%w: unknown action %q", ErrInvalidControl, action)
	}
	return controlsOf(st), nil
}

// Close stops timers and abandons any transcript load. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.cancelLoad != nil {
		s.cancelLoad()
		s.cancelLoad = nil
	}
	s.cuepoints.Stop()
	s.transcript.Stop()
}
