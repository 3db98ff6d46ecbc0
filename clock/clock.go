// Package clock implements the dual countdown timer and its read-only mirror
// of a hardware clock.
//
// Remaining time is never ticked. Each side stores a frozen baseline and the
// instant it started running; reads compute baseline minus elapsed time,
// clamped at zero. The whole pair lives in one immutable value that writers
// replace atomically, so readers never take a lock.
package clock

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/samaelod/duoclock/types"
)

var (
	ErrReadOnly    = errors.New("clock is read-only")
	ErrInvalidSide = errors.New("invalid side")
)

type segment struct {
	base    time.Duration
	started time.Time // zero while frozen
}

func (s segment) running() bool { return !s.started.IsZero() }

func (s segment) remaining(now time.Time) time.Duration {
	d := s.base
	if s.running() {
		d -= now.Sub(s.started)
	}
	if d < 0 {
		return 0
	}
	return d
}

type state struct {
	sides   [2]segment
	initial [2]time.Duration
	loser   types.Side
	lost    bool
}

func (s *state) setTime(side types.Side, d time.Duration, now time.Time) {
	seg := &s.sides[side]
	seg.base = d
	if seg.running() {
		seg.started = now
	}
}

func (s *state) freeze(side types.Side, now time.Time) {
	seg := &s.sides[side]
	seg.base = seg.remaining(now)
	seg.started = time.Time{}
}

func (s *state) startSide(side types.Side, now time.Time) {
	if !s.sides[side].running() {
		s.sides[side].started = now
	}
	s.freeze(side.Other(), now)
}

func (s *state) pause(now time.Time) {
	s.freeze(types.SideA, now)
	s.freeze(types.SideB, now)
}

func (s *state) running() (types.Side, bool) {
	switch {
	case s.sides[types.SideA].running():
		return types.SideA, true
	case s.sides[types.SideB].running():
		return types.SideB, true
	}
	return types.SideA, false
}

func (s *state) declareLoser(side types.Side) {
	if s.lost {
		return
	}
	s.loser = side
	s.lost = true
}

// Clock is a pair of countdown timers of which at most one runs.
type Clock struct {
	clock    clockwork.Clock
	readOnly bool

	mu sync.Mutex // serializes writers
	st atomic.Pointer[state]
}

type Option func(*Clock)

// WithClock sets the time source. Tests pass a clockwork.FakeClock.
func WithClock(c clockwork.Clock) Option {
	return func(cl *Clock) { cl.clock = c }
}

// New creates a paused pair with both sides at their initial durations.
func New(a, b time.Duration, opts ...Option) *Clock {
	c := &Clock{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(c)
	}
	st := &state{initial: [2]time.Duration{a, b}}
	st.sides[types.SideA].base = a
	st.sides[types.SideB].base = b
	c.st.Store(st)
	return c
}

func (c *Clock) mutate(fn func(s *state, now time.Time)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := *c.st.Load()
	fn(&next, c.clock.Now())
	c.st.Store(&next)
}

func (c *Clock) local(side types.Side) error {
	if c.readOnly {
		return ErrReadOnly
	}
	if !side.Valid() {
		return fmt.Errorf("side %d: %w", int(side), ErrInvalidSide)
	}
	return nil
}

// ReadOnly reports whether local commands are rejected.
func (c *Clock) ReadOnly() bool { return c.readOnly }

// Remaining returns the live remaining time of side.
func (c *Clock) Remaining(side types.Side) time.Duration {
	if !side.Valid() {
		return 0
	}
	return c.st.Load().sides[side].remaining(c.clock.Now())
}

// Initial returns the duration side started the game with.
func (c *Clock) Initial(side types.Side) time.Duration {
	if !side.Valid() {
		return 0
	}
	return c.st.Load().initial[side]
}

// Running returns the side currently counting down, if any.
func (c *Clock) Running() (types.Side, bool) {
	return c.st.Load().running()
}

// Loser returns the side that ran out of time, if any.
func (c *Clock) Loser() (types.Side, bool) {
	st := c.st.Load()
	return st.loser, st.lost
}

// SetTime sets the remaining time of side. A running side keeps running from
// the new value.
func (c *Clock) SetTime(side types.Side, d time.Duration) error {
	if err := c.local(side); err != nil {
		return err
	}
	c.mutate(func(s *state, now time.Time) { s.setTime(side, d, now) })
	return nil
}

// SetTimes sets both remaining times in one step.
func (c *Clock) SetTimes(a, b time.Duration) error {
	if c.readOnly {
		return ErrReadOnly
	}
	c.mutate(func(s *state, now time.Time) {
		s.setTime(types.SideA, a, now)
		s.setTime(types.SideB, b, now)
	})
	return nil
}

// StartSide starts side and freezes the other one. Starting the side that is
// already running keeps its original start instant.
func (c *Clock) StartSide(side types.Side) error {
	if err := c.local(side); err != nil {
		return err
	}
	c.mutate(func(s *state, now time.Time) { s.startSide(side, now) })
	return nil
}

// StartSideWith sets side to d and then starts it.
func (c *Clock) StartSideWith(side types.Side, d time.Duration) error {
	if err := c.local(side); err != nil {
		return err
	}
	c.mutate(func(s *state, now time.Time) {
		s.setTime(side, d, now)
		s.startSide(side, now)
	})
	return nil
}

// Pause freezes both sides.
func (c *Clock) Pause() error {
	if c.readOnly {
		return ErrReadOnly
	}
	c.mutate(func(s *state, now time.Time) { s.pause(now) })
	return nil
}

// Restart puts both sides back to their initial durations, paused, and
// clears the loser.
func (c *Clock) Restart() error {
	if c.readOnly {
		return ErrReadOnly
	}
	c.mutate(func(s *state, now time.Time) {
		s.pause(now)
		s.sides[types.SideA].base = s.initial[types.SideA]
		s.sides[types.SideB].base = s.initial[types.SideB]
		s.lost = false
		s.loser = types.SideA
	})
	return nil
}

// CheckForLoser records the first side found at zero, Side A checked first,
// and returns the loser. A recorded loser is never replaced.
func (c *Clock) CheckForLoser() (types.Side, bool) {
	if side, ok := c.Loser(); ok {
		return side, true
	}
	c.mutate(func(s *state, now time.Time) {
		if s.lost {
			return
		}
		switch {
		case s.sides[types.SideA].remaining(now) == 0:
			s.declareLoser(types.SideA)
		case s.sides[types.SideB].remaining(now) == 0:
			s.declareLoser(types.SideB)
		}
	})
	return c.Loser()
}

// Snapshot is the pair sampled at a single instant.
type Snapshot struct {
	RemainingA time.Duration
	RemainingB time.Duration
	InitialA   time.Duration
	InitialB   time.Duration
	Running    types.Side
	HasRunning bool
	Loser      types.Side
	HasLoser   bool
	ReadOnly   bool
}

// Remaining returns the remaining time of side in the snapshot.
func (s Snapshot) Remaining(side types.Side) time.Duration {
	if side == types.SideB {
		return s.RemainingB
	}
	return s.RemainingA
}

// Initial returns the initial time of side in the snapshot.
func (s Snapshot) Initial(side types.Side) time.Duration {
	if side == types.SideB {
		return s.InitialB
	}
	return s.InitialA
}

// Progress is the fraction of the initial time left for side, in [0, 1].
func (s Snapshot) Progress(side types.Side) float64 {
	initial := s.Initial(side)
	if initial <= 0 {
		return 0
	}
	p := float64(s.Remaining(side)) / float64(initial)
	if p > 1 {
		return 1
	}
	return p
}

func (c *Clock) Snapshot() Snapshot {
	st := c.st.Load()
	now := c.clock.Now()
	running, hasRunning := st.running()
	return Snapshot{
		RemainingA: st.sides[types.SideA].remaining(now),
		RemainingB: st.sides[types.SideB].remaining(now),
		InitialA:   st.initial[types.SideA],
		InitialB:   st.initial[types.SideB],
		Running:    running,
		HasRunning: hasRunning,
		Loser:      st.loser,
		HasLoser:   st.lost,
		ReadOnly:   c.readOnly,
	}
}

// Poll is what a renderer calls on every tick: local clocks detect their own
// loser, mirrored clocks wait for the hardware to declare it.
func (c *Clock) Poll() Snapshot {
	if !c.readOnly {
		c.CheckForLoser()
	}
	return c.Snapshot()
}

// MinSec splits d into whole minutes and seconds.
func MinSec(d time.Duration) (int, int) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return int(ms / 60000), int(ms % 60000 / 1000)
}

// Format renders d as m:ss.
func Format(d time.Duration) string {
	m, s := MinSec(d)
	return fmt.Sprintf("%d:%02d", m, s)
}
