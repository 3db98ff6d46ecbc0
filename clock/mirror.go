package clock

import (
	"errors"
	"fmt"
	"time"

	"github.com/samaelod/duoclock/types"
	"github.com/samaelod/duoclock/wire"
)

var ErrNotApplicable = errors.New("message does not apply to the clock")

// Mirror is a read-only Clock driven by frames from a hardware clock. Local
// commands on the embedded Clock return ErrReadOnly.
type Mirror struct {
	*Clock
}

// NewMirror creates a mirror at 0:00 / 0:00 waiting for the first Sync.
func NewMirror(opts ...Option) *Mirror {
	c := New(0, 0, opts...)
	c.readOnly = true
	return &Mirror{Clock: c}
}

func millis(v uint32) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Apply applies one decoded frame. The hardware is trusted: frames are never
// rejected for being out of turn.
func (m *Mirror) Apply(msg wire.Message) error {
	if msg.Kind.Args() != len(msg.Args) {
		return fmt.Errorf("apply %s: %w", msg.Kind, wire.ErrArgCount)
	}

	switch msg.Kind {
	case wire.KindStartSideA:
		m.mutate(func(s *state, now time.Time) {
			s.setTime(types.SideB, millis(msg.Args[0]), now)
			s.startSide(types.SideA, now)
		})
	case wire.KindStartSideB:
		m.mutate(func(s *state, now time.Time) {
			s.setTime(types.SideA, millis(msg.Args[0]), now)
			s.startSide(types.SideB, now)
		})
	case wire.KindSync:
		a, b := millis(msg.Args[0]), millis(msg.Args[1])
		m.mutate(func(s *state, now time.Time) {
			if _, running := s.running(); !running {
				s.initial = [2]time.Duration{a, b}
			}
			s.setTime(types.SideA, a, now)
			s.setTime(types.SideB, b, now)
		})
	case wire.KindPause:
		m.mutate(func(s *state, now time.Time) { s.pause(now) })
	case wire.KindSideAFinish:
		m.mutate(func(s *state, now time.Time) {
			s.setTime(types.SideA, 0, now)
			s.declareLoser(types.SideA)
		})
	case wire.KindSideBFinish:
		m.mutate(func(s *state, now time.Time) {
			s.setTime(types.SideB, 0, now)
			s.declareLoser(types.SideB)
		})
	default:
		return fmt.Errorf("apply %s: %w", msg.Kind, ErrNotApplicable)
	}
	return nil
}
