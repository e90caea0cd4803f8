package cuepoint

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/sendrec/cueplayer/internal/playback"
)

// Config holds the trigger window and the two timer durations.
type Config struct {
	// Window is the distance in seconds within which a cuepoint fires.
	Window float64
	// RearmDelay is how long after firing the engine checks whether playback
	// has left the cuepoint.
	RearmDelay time.Duration
	// DisplayDuration is how long the triggered highlight stays on.
	DisplayDuration time.Duration
	// RearmBefore and RearmAfter bound the band around the cuepoint time in
	// which refiring stays suppressed.
	RearmBefore float64
	RearmAfter  float64
}

func DefaultConfig() Config {
	return Config{
		Window:          0.5,
		RearmDelay:      2 * time.Second,
		DisplayDuration: 500 * time.Millisecond,
		RearmBefore:     1,
		RearmAfter:      2,
	}
}

type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseArmed       Phase = "armed"
	PhaseCoolingDown Phase = "cooling_down"
)

// State is the trigger state. Index is the armed cuepoint's position in
// ascending-time order, or -1 when idle.
type State struct {
	Phase      Phase  `json:"phase"`
	Index      int    `json:"index"`
	CuepointID string `json:"cuepointId,omitempty"`
}

// FireEvent asks the display surface to show a cuepoint.
type FireEvent struct {
	CuepointID string  `json:"cuepointId"`
	Index      int     `json:"index"`
	Time       float64 `json:"time"`
	Timestamp  string  `json:"timestamp"`
	Label      string  `json:"label"`
	Content    string  `json:"content"`
}

// Display is what the content area currently shows. Triggered is the short
// highlight that follows a fire.
type Display struct {
	Event     *FireEvent `json:"event"`
	Triggered bool       `json:"triggered"`
}

// Engine owns a session's cuepoints and trigger state. It is not safe for
// concurrent use; callers serialise ticks, edits and timer callbacks.
type Engine struct {
	cfg       Config
	scheduler playback.Scheduler

	cuepoints []Cuepoint
	position  float64

	phase   Phase
	armedID string
	fireSeq uint64

	display      *FireEvent
	triggered    bool
	displayTimer playback.Timer
	rearmTimer   playback.Timer
}

// NewEngine returns an idle engine with no cuepoints. A nil scheduler uses
// wall-clock timers.
func NewEngine(scheduler playback.Scheduler, cfg Config) *Engine {
	if scheduler == nil {
		scheduler = playback.WallClock()
	}
	return &Engine{
		cfg:       cfg,
		scheduler: scheduler,
		phase:     PhaseIdle,
		position:  math.NaN(),
	}
}

func byTime(a, b Cuepoint) int {
	return cmp.Compare(a.Time, b.Time)
}

// Load replaces the collection and returns the engine to idle.
func (e *Engine) Load(cuepoints []Cuepoint) {
	e.cuepoints = slices.Clone(cuepoints)
	slices.SortStableFunc(e.cuepoints, byTime)
	e.toIdle()
}

// Add validates and appends a cuepoint. Invalid input leaves the collection
// untouched and returns an error wrapping ErrInvalidCuepoint.
func (e *Engine) Add(seconds float64, label, content string) (Cuepoint, error) {
	c, err := New(seconds, label, content)
	if err != nil {
		return Cuepoint{}, err
	}
	e.insert(c)
	return c, nil
}

func (e *Engine) insert(c Cuepoint) {
	e.cuepoints = append(e.cuepoints, c)
	slices.SortStableFunc(e.cuepoints, byTime)
}

// List returns the cuepoints in ascending-time order.
func (e *Engine) List() []Cuepoint {
	return slices.Clone(e.cuepoints)
}

func (e *Engine) Len() int {
	return len(e.cuepoints)
}

func (e *Engine) indexOf(id string) int {
	return slices.IndexFunc(e.cuepoints, func(c Cuepoint) bool { return c.ID == id })
}

// Get looks a cuepoint up by identity.
func (e *Engine) Get(id string) (Cuepoint, bool) {
	i := e.indexOf(id)
	if i < 0 {
		return Cuepoint{}, false
	}
	return e.cuepoints[i], true
}

// Remove deletes the cuepoint with the given identity.
func (e *Engine) Remove(id string) (Cuepoint, error) {
	i := e.indexOf(id)
	if i < 0 {
		return Cuepoint{}, fmt.Errorf("remove %s: %w", id, ErrNotFound)
	}
	return e.removeIndex(i), nil
}

// RemoveAt deletes the cuepoint at position in ascending-time order.
// Positions of later cuepoints shift down by one.
func (e *Engine) RemoveAt(position int) (Cuepoint, error) {
	if position < 0 || position >= len(e.cuepoints) {
		return Cuepoint{}, fmt.Errorf("remove position %d: %w", position, ErrNotFound)
	}
	return e.removeIndex(position), nil
}

func (e *Engine) removeIndex(i int) Cuepoint {
	c := e.cuepoints[i]
	e.cuepoints = slices.Delete(e.cuepoints, i, i+1)
	if c.ID == e.armedID {
		e.toIdle()
	}
	return c
}

// Edit applies changes to a cuepoint. Editing the armed cuepoint returns
// the engine to idle.
func (e *Engine) Edit(id string, changes Changes) (Cuepoint, error) {
	i := e.indexOf(id)
	if i < 0 {
		return Cuepoint{}, fmt.Errorf("edit %s: %w", id, ErrNotFound)
	}
	updated, err := changes.apply(e.cuepoints[i])
	if err != nil {
		return Cuepoint{}, err
	}
	e.cuepoints[i] = updated
	slices.SortStableFunc(e.cuepoints, byTime)
	if id == e.armedID {
		e.toIdle()
	}
	return updated, nil
}

// Update handles a position-changed tick. It fires at most one cuepoint:
// the first, in ascending-time order, that lies within the window and is
// not the armed one.
func (e *Engine) Update(currentTime float64) (FireEvent, bool) {
	if math.IsNaN(currentTime) {
		return FireEvent{}, false
	}
	e.position = currentTime

	for i, c := range e.cuepoints {
		if c.Time-currentTime >= e.cfg.Window {
			break
		}
		if math.Abs(currentTime-c.Time) < e.cfg.Window && c.ID != e.armedID {
			return e.fire(i), true
		}
	}
	return FireEvent{}, false
}

func (e *Engine) fire(i int) FireEvent {
	c := e.cuepoints[i]
	playback.StopTimer(e.displayTimer)
	playback.StopTimer(e.rearmTimer)

	e.fireSeq++
	seq := e.fireSeq
	e.armedID = c.ID
	e.phase = PhaseArmed

	ev := FireEvent{
		CuepointID: c.ID,
		Index:      i,
		Time:       c.Time,
		Timestamp:  playback.FormatTime(c.Time),
		Label:      c.Label,
		Content:    c.Content,
	}
	e.display = &ev
	e.triggered = true

	e.displayTimer = e.scheduler.AfterFunc(e.cfg.DisplayDuration, func() { e.clearDisplay(seq) })
	e.scheduleRearm(seq)
	return ev
}

func (e *Engine) clearDisplay(seq uint64) {
	if seq != e.fireSeq {
		return
	}
	e.triggered = false
	if e.phase == PhaseArmed {
		e.phase = PhaseCoolingDown
	}
}

func (e *Engine) scheduleRearm(seq uint64) {
	e.rearmTimer = e.scheduler.AfterFunc(e.cfg.RearmDelay, func() { e.checkRearm(seq) })
}

// checkRearm clears the armed cuepoint once playback has left its band.
// While playback still sits on it the check is repeated.
func (e *Engine) checkRearm(seq uint64) {
	if seq != e.fireSeq || e.armedID == "" {
		return
	}
	c, ok := e.Get(e.armedID)
	if !ok {
		e.toIdle()
		return
	}
	if e.position < c.Time-e.cfg.RearmBefore || e.position > c.Time+e.cfg.RearmAfter {
		e.toIdle()
		return
	}
	e.scheduleRearm(seq)
}

func (e *Engine) toIdle() {
	playback.StopTimer(e.rearmTimer)
	e.rearmTimer = nil
	e.armedID = ""
	e.phase = PhaseIdle
}

// State reports the current trigger state.
func (e *Engine) State() State {
	if e.armedID == "" {
		return State{Phase: PhaseIdle, Index: -1}
	}
	return State{Phase: e.phase, Index: e.indexOf(e.armedID), CuepointID: e.armedID}
}

// Display reports what the content area shows.
func (e *Engine) Display() Display {
	if e.display == nil {
		return Display{}
	}
	ev := *e.display
	return Display{Event: &ev, Triggered: e.triggered}
}

// Stop cancels pending timers and returns the engine to idle. Sessions call
// it when they end.
func (e *Engine) Stop() {
	playback.StopTimer(e.displayTimer)
	e.displayTimer = nil
	e.triggered = false
	e.toIdle()
}
