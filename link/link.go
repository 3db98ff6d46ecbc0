// Package link runs the handshake and framing state machine over a byte
// stream shared with a hardware clock.
package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/samaelod/duoclock/types"
	"github.com/samaelod/duoclock/wire"
)

const (
	DefaultResyncDelay  = 100 * time.Millisecond
	DefaultResyncWindow = 256
)

var ErrNotWritable = errors.New("link is not writable")

// Negotiate picks the HandshakeResponse argument for a proposed mode. The
// table is what the hardware firmware expects and is not symmetric.
func Negotiate(proposed types.Mode) types.Mode {
	switch proposed {
	case types.ModeWeDecide:
		return types.ModeMaster
	case types.ModeSyncOnly:
		return types.ModeUnsupported
	case types.ModeSlave:
		return types.ModeSlave
	case types.ModeMaster:
		return types.ModeUnsupported
	default:
		return types.ModeUnsupported
	}
}

// Link wraps a stream. One goroutine calls Read in a loop; any goroutine may
// Write.
type Link struct {
	rw  io.ReadWriter
	dec *wire.Decoder

	clock        clockwork.Clock
	log          zerolog.Logger
	resyncDelay  time.Duration
	resyncWindow int

	writeSlot chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	connected chan struct{}
	connOnce  sync.Once

	status  atomic.Int32
	mode    atomic.Uint32
	hasMode atomic.Bool
}

type Option func(*Link)

func WithClock(c clockwork.Clock) Option {
	return func(l *Link) { l.clock = c }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(l *Link) { l.log = logger }
}

// WithResync sets how long to wait after an unknown tag and how many bytes
// to drop before decoding again.
func WithResync(delay time.Duration, window int) Option {
	return func(l *Link) {
		l.resyncDelay = delay
		l.resyncWindow = window
	}
}

func New(rw io.ReadWriter, opts ...Option) *Link {
	l := &Link{
		rw:           rw,
		dec:          wire.NewDecoder(rw),
		clock:        clockwork.NewRealClock(),
		log:          zerolog.Nop(),
		resyncDelay:  DefaultResyncDelay,
		resyncWindow: DefaultResyncWindow,
		writeSlot:    make(chan struct{}, 1),
		closed:       make(chan struct{}),
		connected:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.status.Store(int32(types.LinkAwaitingHandshake))
	return l
}

func (l *Link) Status() types.LinkStatus { return types.LinkStatus(l.status.Load()) }

// Connected reports whether a handshake exchange has been seen. It stays true
// after the link closes.
func (l *Link) Connected() bool {
	select {
	case <-l.connected:
		return true
	default:
		return false
	}
}

// Mode returns the negotiated mode once a handshake has completed.
func (l *Link) Mode() (types.Mode, bool) {
	return types.Mode(l.mode.Load()), l.hasMode.Load()
}

// Done is closed when the link is closed or its stream failed.
func (l *Link) Done() <-chan struct{} { return l.closed }

func (l *Link) markConnected(mode types.Mode) {
	l.mode.Store(uint32(mode))
	l.hasMode.Store(true)
	l.connOnce.Do(func() {
		l.status.CompareAndSwap(int32(types.LinkAwaitingHandshake), int32(types.LinkConnected))
		close(l.connected)
	})
}

// Read returns the next frame meant for the clock. Handshake traffic is
// answered and consumed here, and unknown tags trigger a resync, so neither
// is ever returned. A stream error is fatal: the link closes and the error
// is returned. Read cannot be interrupted while blocked on the stream;
// closing the link unblocks it.
func (l *Link) Read(ctx context.Context) (wire.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return wire.Message{}, err
		}

		msg, err := l.dec.Decode()
		if err != nil {
			var unknown *wire.UnknownFrameError
			if errors.As(err, &unknown) {
				l.log.Warn().
					Str("tag", fmt.Sprintf("0x%02X", unknown.Tag)).
					Msg("unknown frame tag, resynchronizing")
				if err := l.resync(ctx); err != nil {
					return wire.Message{}, l.fail(err)
				}
				continue
			}
			return wire.Message{}, l.fail(err)
		}

		switch msg.Kind {
		case wire.KindHandshake:
			proposed := types.Mode(msg.Arg(0))
			reply := Negotiate(proposed)
			l.markConnected(reply)
			l.log.Info().
				Stringer("proposed", proposed).
				Str("reply", reply.ResponseString()).
				Msg("handshake received")
			// The reply must not hold up frames already queued behind it.
			go func() {
				if err := l.Write(ctx, wire.KindHandshakeResponse, uint32(reply)); err != nil {
					l.log.Error().Err(err).Msg("failed to send handshake response")
				}
			}()
			continue

		case wire.KindHandshakeResponse:
			mode := types.Mode(msg.Arg(0))
			l.markConnected(mode)
			if mode == types.ModeUnsupported {
				l.log.Error().Msg("peer rejected proposed mode, continuing unconfirmed")
			} else {
				l.log.Info().Str("mode", mode.ResponseString()).Msg("handshake confirmed")
			}
			continue
		}

		l.log.Debug().
			Stringer("kind", msg.Kind).
			Uints32("args", msg.Args).
			Msg("read frame")
		return msg, nil
	}
}

func (l *Link) resync(ctx context.Context) error {
	if l.resyncDelay > 0 {
		select {
		case <-l.clock.After(l.resyncDelay):
		case <-ctx.Done():
			return ctx.Err()
		case <-l.closed:
			return net.ErrClosed
		}
	}
	n, err := l.dec.Discard(l.resyncWindow)
	if err != nil {
		return err
	}
	l.log.Debug().Int("discarded", n).Msg("resync window flushed")
	return nil
}

// Write encodes and sends one frame. It waits for exclusive use of the
// write side so frames never interleave.
func (l *Link) Write(ctx context.Context, kind wire.Kind, args ...uint32) error {
	buf, err := wire.Encode(kind, args...)
	if err != nil {
		return err
	}

	select {
	case <-l.closed:
		return ErrNotWritable
	default:
	}

	select {
	case l.writeSlot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.closed:
		return ErrNotWritable
	}
	defer func() { <-l.writeSlot }()

	if _, err := l.rw.Write(buf); err != nil {
		return fmt.Errorf("write %s: %w", kind, err)
	}

	l.log.Info().
		Stringer("kind", kind).
		Uints32("args", args).
		Msg("wrote frame")
	return nil
}

// Handshake proposes mode and waits until the peer answers or timeout
// elapses. Another goroutine must be calling Read for the answer to arrive.
func (l *Link) Handshake(ctx context.Context, mode types.Mode, timeout time.Duration) (bool, error) {
	if err := l.Write(ctx, wire.KindHandshake, uint32(mode)); err != nil {
		return false, err
	}

	select {
	case <-l.connected:
		return true, nil
	case <-l.clock.After(timeout):
		l.log.Warn().Dur("timeout", timeout).Msg("no handshake answer")
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-l.closed:
		return l.Connected(), nil
	}
}

func (l *Link) fail(err error) error {
	if errors.Is(err, io.EOF) {
		l.log.Info().Msg("stream closed by peer")
	} else {
		l.log.Error().Err(err).Msg("link read failed")
	}
	l.Close()
	return err
}

// Close marks the link disconnected and closes the stream when it is an
// io.Closer. It is safe to call more than once.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.status.Store(int32(types.LinkDisconnected))
		close(l.closed)
		if c, ok := l.rw.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}
