package worker

import (
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/glitter/engine"
)

// Session is the detector state owned by the boundary goroutine. A new
// session is created for every Init.
type Session struct {
	ID        uuid.UUID
	Codes     []uint32
	Width     int
	Height    int
	Decimate  float64
	TargetFPS float64
	Options   engine.Options
	CreatedAt time.Time

	Jobs      uint64
	Failures  uint64
	BadFrames int
}

func newSession(msg Init, now time.Time) *Session {
	decimate := msg.Decimate
	if decimate < 1 {
		decimate = 1
	}
	opts := msg.Options
	opts.Decimate = decimate
	return &Session{
		ID:        uuid.New(),
		Codes:     append([]uint32(nil), msg.Codes...),
		Width:     msg.Width,
		Height:    msg.Height,
		Decimate:  decimate,
		TargetFPS: msg.TargetFPS,
		Options:   opts,
		CreatedAt: now,
	}
}

// frameBudget is the per-frame time allowed at the target rate, or zero
// when no rate is set.
func (s *Session) frameBudget() time.Duration {
	if s.TargetFPS <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / s.TargetFPS)
}

// snapshot returns a copy safe to hand to other goroutines.
func (s *Session) snapshot() Session {
	c := *s
	c.Codes = append([]uint32(nil), s.Codes...)
	return c
}
