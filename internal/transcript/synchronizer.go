// Package transcript keeps a language's caption cues in step with the
// playback position.
package transcript

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/sendrec/cueplayer/internal/languages"
	"github.com/sendrec/cueplayer/internal/playback"
)

type Status string

const (
	StatusUnloaded Status = "unloaded"
	StatusLoading  Status = "loading"
	StatusLoaded   Status = "loaded"
	StatusEmpty    Status = "empty"
)

var (
	ErrLoadTimeout   = errors.New("transcript load timed out")
	ErrNoCues        = errors.New("transcript has no cues")
	ErrCueOutOfRange = errors.New("cue index out of range")
)

const DefaultLoadTimeout = 2 * time.Second

// Token identifies one load request. Completions carrying an older token
// are ignored.
type Token uint64

type Config struct {
	// LoadTimeout bounds how long a load may stay pending.
	LoadTimeout time.Duration
	// Resource names the file a language's cues come from, for diagnostics.
	Resource func(language string) string
}

func DefaultConfig() Config {
	return Config{
		LoadTimeout: DefaultLoadTimeout,
		Resource:    func(language string) string { return "media/" + languages.TranscriptFile(language) },
	}
}

// Highlight is the display effect of a position update.
type Highlight struct {
	Active []int `json:"active"`
	// ScrollTo is the cue to scroll into view, or -1 when the active set did
	// not change.
	ScrollTo int  `json:"scrollTo"`
	Changed  bool `json:"changed"`
}

// Synchronizer owns the cue sequence of the selected language. It is not
// safe for concurrent use.
type Synchronizer struct {
	cfg       Config
	scheduler playback.Scheduler

	language   string
	status     Status
	cues       []Cue
	generation uint64
	timer      playback.Timer
	loadErr    error
	active     []int
}

func NewSynchronizer(scheduler playback.Scheduler, cfg Config) *Synchronizer {
	if scheduler == nil {
		scheduler = playback.WallClock()
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	if cfg.Resource == nil {
		cfg.Resource = DefaultConfig().Resource
	}
	return &Synchronizer{cfg: cfg, scheduler: scheduler, status: StatusUnloaded}
}

func (s *Synchronizer) Status() Status   { return s.status }
func (s *Synchronizer) Language() string { return s.language }
func (s *Synchronizer) Err() error       { return s.loadErr }

// Cues returns a copy of the loaded cue sequence.
func (s *Synchronizer) Cues() []Cue {
	return slices.Clone(s.cues)
}

// Diagnostic is the message to show instead of the cue list while Empty.
func (s *Synchronizer) Diagnostic() string {
	if s.status != StatusEmpty {
		return ""
	}
	return fmt.Sprintf("Transcript file not found. Please ensure %s exists.", s.cfg.Resource(s.language))
}

// unload drops cues, highlight and any pending load.
func (s *Synchronizer) unload() {
	playback.StopTimer(s.timer)
	s.timer = nil
	s.generation++
	s.cues = nil
	s.active = nil
	s.loadErr = nil
	s.status = StatusUnloaded
}

// Switch selects a language and starts waiting for its cues. The previous
// sequence is cleared before Switch returns.
func (s *Synchronizer) Switch(language string) Token {
	s.unload()
	s.language = language
	s.status = StatusLoading

	tok := Token(s.generation)
	s.timer = s.scheduler.AfterFunc(s.cfg.LoadTimeout, func() { s.expire(tok) })
	return tok
}

// Reload restarts the load of the current language.
func (s *Synchronizer) Reload() Token {
	return s.Switch(s.language)
}

// Pending reports whether tok still belongs to the outstanding load.
func (s *Synchronizer) Pending(tok Token) bool {
	return s.status == StatusLoading && tok == Token(s.generation)
}

// Complete delivers the cues for tok. It reports false when tok is stale.
func (s *Synchronizer) Complete(tok Token, cues []Cue) bool {
	if !s.Pending(tok) {
		return false
	}
	playback.StopTimer(s.timer)
	s.timer = nil
	s.setCues(cues)
	return true
}

// Fail reports that the load for tok failed. It reports false when tok is
// stale.
func (s *Synchronizer) Fail(tok Token, err error) bool {
	if !s.Pending(tok) {
		return false
	}
	playback.StopTimer(s.timer)
	s.timer = nil
	s.toEmpty(err)
	return true
}

func (s *Synchronizer) expire(tok Token) {
	if !s.Pending(tok) {
		return
	}
	s.timer = nil
	s.toEmpty(ErrLoadTimeout)
}

// LoadCues replaces the cue sequence directly. Any load still in flight
// becomes stale.
func (s *Synchronizer) LoadCues(cues []Cue) {
	playback.StopTimer(s.timer)
	s.timer = nil
	s.generation++
	s.active = nil
	s.loadErr = nil
	s.setCues(cues)
}

func (s *Synchronizer) setCues(cues []Cue) {
	if len(cues) == 0 {
		s.toEmpty(ErrNoCues)
		return
	}
	s.cues = slices.Clone(cues)
	s.active = nil
	s.status = StatusLoaded
}

func (s *Synchronizer) toEmpty(err error) {
	s.cues = nil
	s.active = nil
	s.loadErr = err
	s.status = StatusEmpty
}

// ActiveIndices returns every cue whose interval contains t, ends included.
func (s *Synchronizer) ActiveIndices(t float64) []int {
	active := make([]int, 0)
	if math.IsNaN(t) {
		return active
	}
	for i, c := range s.cues {
		if c.Start <= t && t <= c.End {
			active = append(active, i)
		}
	}
	return active
}

// Sync updates the highlight for position t.
func (s *Synchronizer) Sync(t float64) Highlight {
	active := s.ActiveIndices(t)
	changed := !slices.Equal(active, s.active)
	s.active = active

	h := Highlight{Active: slices.Clone(active), ScrollTo: -1, Changed: changed}
	if changed && len(active) > 0 {
		h.ScrollTo = active[0]
	}
	return h
}

// ResetHighlight forgets the last reported active set, so the next Sync
// reports a change and scrolls to the active cue. Used when the panel is
// shown again after ticks it did not see.
func (s *Synchronizer) ResetHighlight() {
	s.active = nil
}

// SeekTo returns the start time of cue index.
func (s *Synchronizer) SeekTo(index int) (float64, error) {
	if index < 0 || index >= len(s.cues) {
		return 0, fmt.Errorf("seek to cue %d: %w", index, ErrCueOutOfRange)
	}
	return s.cues[index].Start, nil
}

// Stop cancels the pending load timer and invalidates any outstanding token.
func (s *Synchronizer) Stop() {
	playback.StopTimer(s.timer)
	s.timer = nil
	s.generation++
}
