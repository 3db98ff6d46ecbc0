package types

// Side identifies one of the two competing timers.
type Side int

const (
	SideA Side = iota
	SideB
)

func (s Side) Valid() bool { return s == SideA || s == SideB }

// Other returns the opposing side.
func (s Side) Other() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

func (s Side) String() string {
	switch s {
	case SideA:
		return "a"
	case SideB:
		return "b"
	default:
		return "?"
	}
}

// Mode is a handshake mode code carried as the single argument of
// Handshake and HandshakeResponse frames.
type Mode uint32

const (
	ModeWeDecide Mode = 0x0000
	ModeSyncOnly Mode = 0x0001
	ModeSlave    Mode = 0x0002
	ModeMaster   Mode = 0x0003
)

// ModeUnsupported shares the wire value of ModeWeDecide; in a response it
// means the proposal was rejected.
const ModeUnsupported Mode = 0x0000

func (m Mode) String() string {
	switch m {
	case ModeWeDecide:
		return "we-decide"
	case ModeSyncOnly:
		return "sync-only"
	case ModeSlave:
		return "slave"
	case ModeMaster:
		return "master"
	default:
		return "unsupported"
	}
}

// ResponseString names m as the argument of a HandshakeResponse, where the
// zero value is a rejection rather than ModeWeDecide.
func (m Mode) ResponseString() string {
	if m == ModeUnsupported {
		return "unsupported"
	}
	return m.String()
}

// ParseMode resolves a mode name as printed by Mode.String.
func ParseMode(s string) (Mode, bool) {
	for _, m := range []Mode{ModeWeDecide, ModeSyncOnly, ModeSlave, ModeMaster} {
		if m.String() == s {
			return m, true
		}
	}
	return 0, false
}

type LinkStatus int

const (
	LinkDisconnected LinkStatus = iota
	LinkAwaitingHandshake
	LinkConnected
)

func (s LinkStatus) String() string {
	switch s {
	case LinkAwaitingHandshake:
		return "awaiting handshake"
	case LinkConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Script is a scripted frame sequence replayed by the hardware emulator.
type Script struct {
	Globals Globals
	Frames  []Frame
}

type Globals struct {
	Address string // emulator listen address
	Delay   int    // ms, used when a frame has no TDelta
	Loop    bool   // restart from the first frame after the last one
}

type Frame struct {
	Kind   string   // wire name, e.g. "sync", "start_a"
	Args   []uint32 // big-endian u32 arguments
	TDelta int      // ms to wait before sending this frame
}

type EngineStatus int

const (
	StatusIdle EngineStatus = iota
	StatusRunning
	StatusCompleted
	StatusError
)

func (s EngineStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}
