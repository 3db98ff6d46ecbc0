// Package feed publishes clock snapshots to spectators.
package feed

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/samaelod/duoclock/clock"
	"github.com/samaelod/duoclock/types"
)

// Source is anything that can be sampled for a snapshot. *engine.Engine
// satisfies it.
type Source interface {
	Session() string
	Snapshot() clock.Snapshot
	Connected() bool
}

// ClockSource adapts a local clock that has no hardware link.
type ClockSource struct {
	ID    string
	Clock *clock.Clock
}

func (s ClockSource) Session() string          { return s.ID }
func (s ClockSource) Snapshot() clock.Snapshot { return s.Clock.Snapshot() }
func (s ClockSource) Connected() bool          { return false }

// Payload is the JSON document spectators receive.
type Payload struct {
	Session      string `json:"session"`
	RemainingAMs int64  `json:"remaining_a_ms"`
	RemainingBMs int64  `json:"remaining_b_ms"`
	InitialAMs   int64  `json:"initial_a_ms"`
	InitialBMs   int64  `json:"initial_b_ms"`
	Running      string `json:"running"`
	Loser        string `json:"loser"`
	ReadOnly     bool   `json:"read_only"`
	Connected    bool   `json:"connected"`
}

func side(s types.Side, ok bool) string {
	if !ok {
		return ""
	}
	return s.String()
}

func NewPayload(src Source) Payload {
	s := src.Snapshot()
	return Payload{
		Session:      src.Session(),
		RemainingAMs: s.RemainingA.Milliseconds(),
		RemainingBMs: s.RemainingB.Milliseconds(),
		InitialAMs:   s.InitialA.Milliseconds(),
		InitialBMs:   s.InitialB.Milliseconds(),
		Running:      side(s.Running, s.HasRunning),
		Loser:        side(s.Loser, s.HasLoser),
		ReadOnly:     s.ReadOnly,
		Connected:    src.Connected(),
	}
}

// visible drops sub-second precision; two payloads with the same visible
// value render identically.
func (p Payload) visible() Payload {
	p.RemainingAMs /= 1000
	p.RemainingBMs /= 1000
	return p
}

type Publisher interface {
	Publish(ctx context.Context, p Payload) error
}

// Poller samples Source every Interval and hands changed payloads to every
// publisher.
type Poller struct {
	Source     Source
	Interval   time.Duration
	Clock      clockwork.Clock
	Publishers []Publisher
}

// Run polls with the real clock until ctx is done.
func Run(ctx context.Context, src Source, interval time.Duration, pubs ...Publisher) error {
	p := &Poller{Source: src, Interval: interval, Publishers: pubs}
	return p.Run(ctx)
}

func (p *Poller) Run(ctx context.Context) error {
	clk := p.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	interval := p.Interval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	var last Payload
	first := true
	for {
		payload := NewPayload(p.Source)
		if first || payload.visible() != last.visible() {
			p.publish(ctx, payload)
			last, first = payload, false
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
}

func (p *Poller) publish(ctx context.Context, payload Payload) {
	for _, pub := range p.Publishers {
		if err := pub.Publish(ctx, payload); err != nil {
			log.Error().Err(err).Str("session", payload.Session).Msg("failed to publish snapshot")
		}
	}
}
