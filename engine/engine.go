package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/samaelod/duoclock/clock"
	"github.com/samaelod/duoclock/config"
	"github.com/samaelod/duoclock/link"
	"github.com/samaelod/duoclock/types"
	"github.com/samaelod/duoclock/wire"
)

var (
	ErrAttached    = errors.New("engine already attached to a clock")
	ErrServing     = errors.New("emulator already listening")
	ErrUnknownKind = errors.New("unknown frame kind")
)

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	LogPath          string
	LogLines         int
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	Propose          bool
	ProposeMode      types.Mode
	ResyncDelay      time.Duration
	ResyncWindow     int
	Clock            clockwork.Clock
	Output           io.Writer // extra log destination besides the ring
}

// OptionsFromConfig maps the file configuration onto engine options.
func OptionsFromConfig(cfg *config.Config, logPath string) Options {
	opts := Options{
		LogPath:          logPath,
		LogLines:         cfg.LogLines,
		DialTimeout:      time.Duration(cfg.DialTimeoutMs) * time.Millisecond,
		HandshakeTimeout: time.Duration(cfg.HandshakeTimeoutMs) * time.Millisecond,
		ResyncDelay:      time.Duration(cfg.ResyncDelayMs) * time.Millisecond,
		ResyncWindow:     cfg.ResyncWindow,
	}
	opts.ProposeMode, opts.Propose = cfg.ProposedMode()
	return opts
}

// Engine owns one mirrored clock session and, optionally, a hardware
// emulator that replays a script to whoever connects.
type Engine struct {
	Log *Logger

	id    string
	opts  Options
	clock clockwork.Clock
	log   zerolog.Logger

	mu       sync.Mutex
	status   types.EngineStatus
	err      error
	mirror   *clock.Mirror
	link     *link.Link
	listener net.Listener
	peers    map[*link.Link]struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewEngine creates an idle engine with an empty mirror.
func NewEngine(opts Options) *Engine {
	if opts.LogLines <= 0 {
		opts.LogLines = defaultLogLines
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 2 * time.Second
	}
	if opts.ResyncDelay <= 0 {
		opts.ResyncDelay = link.DefaultResyncDelay
	}
	if opts.ResyncWindow <= 0 {
		opts.ResyncWindow = link.DefaultResyncWindow
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		Log:    NewLogger(opts.LogPath, opts.LogLines),
		id:     uuid.NewString(),
		opts:   opts,
		clock:  opts.Clock,
		peers:  make(map[*link.Link]struct{}),
		ctx:    ctx,
		cancel: cancel,
	}

	var out io.Writer = zerolog.ConsoleWriter{Out: e.Log, NoColor: true, TimeFormat: "15:04:05"}
	if opts.Output != nil {
		out = zerolog.MultiLevelWriter(out, opts.Output)
	}
	e.log = zerolog.New(out).With().Timestamp().Str("session", e.id[:8]).Logger()
	e.mirror = clock.NewMirror(clock.WithClock(e.clock))

	return e
}

// Session is the unique id of this engine.
func (e *Engine) Session() string { return e.id }

// Logger returns the engine's logger, which writes into Log.
func (e *Engine) Logger() zerolog.Logger { return e.log }

func (e *Engine) Status() types.EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Err is the error that ended the last session, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Mirror returns the clock mirrored from the current or last link.
func (e *Engine) Mirror() *clock.Mirror {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mirror
}

func (e *Engine) Link() *link.Link {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.link
}

func (e *Engine) Connected() bool {
	l := e.Link()
	return l != nil && l.Connected()
}

func (e *Engine) Snapshot() clock.Snapshot {
	return e.Mirror().Snapshot()
}

// Serving reports whether the emulator listener is open.
func (e *Engine) Serving() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listener != nil
}

// Dial connects to a serial line bridged over TCP.
func (e *Engine) Dial(addr string) error {
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()

	d := net.Dialer{Timeout: e.opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	e.log.Info().Str("address", addr).Msg("connected to clock bridge")
	return e.Attach(conn)
}

// OpenDevice attaches to a serial device file. Line settings are expected
// to be configured outside the program.
func (e *Engine) OpenDevice(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	e.log.Info().Str("device", path).Msg("opened clock device")
	return e.Attach(f)
}

// Attach starts mirroring the clock on the other end of rwc. A fresh mirror
// replaces the previous one.
func (e *Engine) Attach(rwc io.ReadWriteCloser) error {
	e.mu.Lock()
	if e.link != nil && e.status == types.StatusRunning {
		e.mu.Unlock()
		rwc.Close()
		return ErrAttached
	}

	m := clock.NewMirror(clock.WithClock(e.clock))
	l := link.New(rwc,
		link.WithClock(e.clock),
		link.WithLogger(e.log.With().Str("component", "link").Logger()),
		link.WithResync(e.opts.ResyncDelay, e.opts.ResyncWindow),
	)
	e.mirror, e.link = m, l
	e.status = types.StatusRunning
	e.err = nil
	ctx := e.ctx
	e.wg.Add(1)
	e.mu.Unlock()

	go e.readLoop(ctx, l, m)

	if e.opts.Propose {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			ok, err := l.Handshake(ctx, e.opts.ProposeMode, e.opts.HandshakeTimeout)
			switch {
			case err != nil:
				e.log.Error().Err(err).Msg("handshake failed")
			case !ok:
				e.log.Warn().Stringer("mode", e.opts.ProposeMode).Msg("clock did not answer handshake")
			}
		}()
	}
	return nil
}

func (e *Engine) readLoop(ctx context.Context, l *link.Link, m *clock.Mirror) {
	defer e.wg.Done()

	// A pending Read only returns once the stream is closed.
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		msg, err := l.Read(ctx)
		if err != nil {
			e.finish(ctx, l, err)
			return
		}
		if err := m.Apply(msg); err != nil {
			e.log.Warn().Err(err).Msg("frame not applied")
		}
	}
}

func (e *Engine) finish(ctx context.Context, l *link.Link, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.link != l {
		return
	}
	switch {
	case ctx.Err() != nil:
		e.status = types.StatusIdle
	case errors.Is(err, io.EOF):
		e.status = types.StatusCompleted
		e.log.Info().Msg("clock link closed")
	default:
		e.status = types.StatusError
		e.err = err
		e.log.Error().Err(err).Msg("clock link failed")
	}
}

type step struct {
	msg  wire.Message
	wait time.Duration
}

func compile(script types.Script) ([]step, error) {
	steps := make([]step, 0, len(script.Frames))
	for i, f := range script.Frames {
		kind, ok := wire.ParseKindName(f.Kind)
		if !ok {
			return nil, fmt.Errorf("frame %d: %w: %q", i+1, ErrUnknownKind, f.Kind)
		}
		msg, err := wire.NewMessage(kind, f.Args...)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i+1, err)
		}
		wait := time.Duration(f.TDelta) * time.Millisecond
		if f.TDelta <= 0 {
			wait = time.Duration(script.Globals.Delay) * time.Millisecond
		}
		steps = append(steps, step{msg: msg, wait: wait})
	}
	return steps, nil
}

// Serve starts the hardware emulator: every accepted connection has its
// handshakes answered and receives the script's frames in order. An empty
// addr uses the script's address.
func (e *Engine) Serve(addr string, script types.Script) (net.Addr, error) {
	steps, err := compile(script)
	if err != nil {
		return nil, err
	}
	if addr == "" {
		addr = script.Globals.Address
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("emulator listen %s: %w", addr, err)
	}

	e.mu.Lock()
	if e.listener != nil {
		e.mu.Unlock()
		ln.Close()
		return nil, ErrServing
	}
	e.listener = ln
	ctx := e.ctx
	e.wg.Add(1)
	e.mu.Unlock()

	e.log.Info().
		Str("address", ln.Addr().String()).
		Int("frames", len(steps)).
		Bool("loop", script.Globals.Loop).
		Msg("emulator listening")

	go e.acceptLoop(ctx, ln, steps, script.Globals.Loop)
	return ln.Addr(), nil
}

func (e *Engine) acceptLoop(ctx context.Context, ln net.Listener, steps []step, loop bool) {
	defer e.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				e.log.Error().Err(err).Msg("emulator accept failed")
			}
			return
		}
		e.log.Info().Str("peer", conn.RemoteAddr().String()).Msg("emulator accepted connection")

		peer := link.New(conn,
			link.WithClock(e.clock),
			link.WithLogger(e.log.With().Str("component", "emulator").Logger()),
		)
		e.mu.Lock()
		e.peers[peer] = struct{}{}
		e.mu.Unlock()

		e.wg.Add(2)
		go e.answer(ctx, peer)
		go e.replay(ctx, peer, steps, loop)
	}
}

// answer keeps reading so handshakes from the peer get their response.
func (e *Engine) answer(ctx context.Context, peer *link.Link) {
	defer e.wg.Done()
	stop := context.AfterFunc(ctx, func() { peer.Close() })
	defer stop()

	for {
		msg, err := peer.Read(ctx)
		if err != nil {
			return
		}
		e.log.Debug().Stringer("frame", msg).Msg("emulator ignored frame")
	}
}

func (e *Engine) replay(ctx context.Context, peer *link.Link, steps []step, loop bool) {
	defer e.wg.Done()
	defer e.dropPeer(peer)

	start := e.clock.Now()
	for {
		for i, s := range steps {
			if s.wait > 0 {
				select {
				case <-e.clock.After(s.wait):
				case <-ctx.Done():
					return
				case <-peer.Done():
					return
				}
			}
			if err := peer.Write(ctx, s.msg.Kind, s.msg.Args...); err != nil {
				e.log.Error().Err(err).Int("frame", i+1).Msg("emulator write failed")
				return
			}
		}
		if !loop || len(steps) == 0 {
			e.log.Info().
				Int64("elapsed_ms", e.clock.Since(start).Milliseconds()).
				Msg("emulator finished script")
			return
		}
	}
}

func (e *Engine) dropPeer(peer *link.Link) {
	peer.Close()
	e.mu.Lock()
	delete(e.peers, peer)
	e.mu.Unlock()
}

// Stop ends the mirrored session and the emulator. The last mirror state is
// kept for display.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	ln := e.listener
	e.listener = nil
	peers := e.peers
	e.peers = make(map[*link.Link]struct{})
	l := e.link
	e.mu.Unlock()

	cancel()
	if ln != nil {
		ln.Close()
	}
	for p := range peers {
		p.Close()
	}
	if l != nil {
		l.Close()
	}
	e.wg.Wait()

	e.mu.Lock()
	e.ctx, e.cancel = context.WithCancel(context.Background())
	if e.status == types.StatusRunning {
		e.status = types.StatusIdle
	}
	e.mu.Unlock()

	e.log.Info().Msg("session stopped")
}

// Close stops everything and flushes the log file.
func (e *Engine) Close() {
	e.Stop()
	e.Log.Close()
}
