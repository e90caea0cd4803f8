// Package cuepoint decides when time-anchored annotations fire during
// playback and when a fired annotation may fire again.
package cuepoint

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/sendrec/cueplayer/internal/validate"
)

// DefaultContent is shown when a cuepoint is created without content.
const DefaultContent = "No additional content provided."

var (
	ErrInvalidCuepoint = errors.New("invalid cuepoint")
	ErrNotFound        = errors.New("cuepoint not found")
)

type Cuepoint struct {
	ID      string  `json:"id"`
	Time    float64 `json:"time"`
	Label   string  `json:"label"`
	Content string  `json:"content"`
}

// New validates user input and returns a cuepoint with a fresh identity.
func New(seconds float64, label, content string) (Cuepoint, error) {
	c := Cuepoint{
		ID:      uuid.NewString(),
		Time:    seconds,
		Label:   strings.TrimSpace(label),
		Content: strings.TrimSpace(content),
	}
	if c.Content == "" {
		c.Content = DefaultContent
	}
	if err := c.validate(); err != nil {
		return Cuepoint{}, err
	}
	return c, nil
}

func (c Cuepoint) validate() error {
	if math.IsNaN(c.Time) || math.IsInf(c.Time, 0) || c.Time < 0 {
		return fmt.Errorf("%w: time must be a non-negative number of seconds", ErrInvalidCuepoint)
	}
	if c.Label == "" {
		return fmt.Errorf("%w: label is required", ErrInvalidCuepoint)
	}
	if msg := validate.CuepointLabel(c.Label); msg != "" {
		return fmt.Errorf("%w: %s", ErrInvalidCuepoint, msg)
	}
	if msg := validate.CuepointContent(c.Content); msg != "" {
		return fmt.Errorf("%w: %s", ErrInvalidCuepoint, msg)
	}
	return nil
}

// Changes is a partial edit. Nil fields are left alone.
type Changes struct {
	Time    *float64 `json:"time"`
	Label   *string  `json:"label"`
	Content *string  `json:"content"`
}

func (ch Changes) apply(c Cuepoint) (Cuepoint, error) {
	if ch.Time != nil {
		c.Time = *ch.Time
	}
	if ch.Label != nil {
		c.Label = strings.TrimSpace(*ch.Label)
	}
	if ch.Content != nil {
		c.Content = strings.TrimSpace(*ch.Content)
		if c.Content == "" {
			c.Content = DefaultContent
		}
	}
	if err := c.validate(); err != nil {
		return Cuepoint{}, err
	}
	return c, nil
}

// Defaults returns the annotations a session starts with when nothing is
// stored for its video.
func Defaults() []Cuepoint {
	seeds := []struct {
		time           float64
		label, content string
	}{
		{5, "💡 Introduction to Student Entrepreneurship", "Welcome! This section introduces the key concepts of starting a business while studying."},
		{30, "📊 Market Research Basics", "Learn how to identify your target market and validate your business idea."},
		{60, "💰 Funding Options for Students", "Explore scholarships, grants, and other funding sources available to student entrepreneurs."},
	}
	out := make([]Cuepoint, 0, len(seeds))
	for _, s := range seeds {
		out = append(out, Cuepoint{ID: uuid.NewString(), Time: s.time, Label: s.label, Content: s.content})
	}
	return out
}
