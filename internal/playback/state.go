package playback

import (
	"fmt"
	"math"
)

const (
	SkipSeconds     = 10.0
	KeySeekSeconds  = 5.0
	KeyVolumeStep   = 0.1
	RateSlow        = 0.5
	RateNormal      = 1.0
	RateFast        = 2.0
	defaultVolume   = 1.0
	minPlaybackRate = 0.0625
	maxPlaybackRate = 16.0
)

// Clock is the read side of the host media element as seen by the cores.
type Clock interface {
	Position() float64
	Length() float64
	IsPaused() bool
}

// State mirrors the host media element's transport state. The browser owns
// the real element; State records what it reports and applies the player's
// clamping rules to commands before they are sent back.
type State struct {
	CurrentTime float64
	Duration    float64
	Paused      bool
	Volume      float64
	Muted       bool
	Rate        float64
}

var _ Clock = (*State)(nil)

// NewState returns a paused transport with unknown duration.
func NewState() State {
	return State{
		Duration: math.NaN(),
		Paused:   true,
		Volume:   defaultVolume,
		Rate:     RateNormal,
	}
}

func (s *State) Position() float64 { return s.CurrentTime }
func (s *State) Length() float64   { return s.Duration }
func (s *State) IsPaused() bool    { return s.Paused }

// HasDuration reports whether metadata has been loaded.
func (s *State) HasDuration() bool {
	return !math.IsNaN(s.Duration) && !math.IsInf(s.Duration, 0) && s.Duration >= 0
}

// Observe records a position report from the host.
func (s *State) Observe(currentTime float64) {
	s.CurrentTime = currentTime
}

// SetDuration records the metadata-loaded signal.
func (s *State) SetDuration(d float64) {
	s.Duration = d
}

// Seek moves to t, clamped to [0, duration] when the duration is known.
func (s *State) Seek(t float64) {
	if math.IsNaN(t) {
		return
	}
	if t < 0 {
		t = 0
	}
	if s.HasDuration() && t > s.Duration {
		t = s.Duration
	}
	s.CurrentTime = t
}

// SkipBy seeks relative to the current position.
func (s *State) SkipBy(delta float64) {
	current := s.CurrentTime
	if math.IsNaN(current) {
		current = 0
	}
	s.Seek(current + delta)
}

// SeekFraction seeks to a fraction of the duration, as a progress bar click does.
func (s *State) SeekFraction(fraction float64) {
	if !s.HasDuration() {
		return
	}
	s.Seek(math.Max(0, math.Min(1, fraction)) * s.Duration)
}

// Progress returns the played percentage, or 0 while the duration is unknown.
func (s *State) Progress() float64 {
	if !s.HasDuration() || s.Duration == 0 || math.IsNaN(s.CurrentTime) {
		return 0
	}
	return math.Min(100, s.CurrentTime/s.Duration*100)
}

func (s *State) Play()  { s.Paused = false }
func (s *State) Pause() { s.Paused = true }

func (s *State) TogglePlay() {
	s.Paused = !s.Paused
}

// SetVolume sets the slider volume. A volume of zero mutes.
func (s *State) SetVolume(v float64) {
	s.Volume = clamp01(v)
	s.Muted = s.Volume == 0
}

// NudgeVolume changes the volume by delta without touching the mute flag.
func (s *State) NudgeVolume(delta float64) {
	s.Volume = clamp01(math.Round((s.Volume+delta)*100) / 100)
}

func (s *State) ToggleMute() {
	s.Muted = !s.Muted
}

// SliderValue is what the volume slider shows: zero while muted.
func (s *State) SliderValue() float64 {
	if s.Muted {
		return 0
	}
	return s.Volume * 100
}

// SetRate changes the playback rate.
func (s *State) SetRate(rate float64) error {
	if math.IsNaN(rate) || rate < minPlaybackRate || rate > maxPlaybackRate {
		return fmt.Errorf("playback rate %v out of range", rate)
	}
	s.Rate = rate
	return nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
