package tui

import (
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"

	"github.com/samaelod/duoclock/clock"
	"github.com/samaelod/duoclock/config"
	"github.com/samaelod/duoclock/engine"
	"github.com/samaelod/duoclock/types"
)

type screen int

const (
	screenModeSelect screen = iota
	screenCustom
	screenAddress
	screenFilePicker
	screenConnecting
	screenClock
)

type menuAction int

const (
	actionPreset menuAction = iota
	actionCustom
	actionConnect
	actionEmulate
)

type Model struct {
	screen screen
	cfg    *config.Config
	err    error

	menu list.Model

	// Custom time entry: A minutes, A seconds, B minutes, B seconds.
	timeInputs []textinput.Model
	address    textinput.Model
	focus      int

	fileBrowser  FileBrowser
	selectedFile string

	engine    *engine.Engine
	local     *clock.Clock // nil while mirroring a hardware clock
	transport string       // "USB" or "TCP" when mirroring

	tickID     int
	snap       clock.Snapshot
	hasStarted bool
	activeView int // 0: clock, 1: logs

	width   int
	height  int
	version string

	logViewport viewport.Model
}

func (m Model) mirroring() bool { return m.local == nil && m.engine != nil }

// poll samples whichever clock the session shows.
func (m Model) poll() clock.Snapshot {
	if m.local != nil {
		return m.local.Poll()
	}
	if m.engine != nil {
		return m.engine.Mirror().Poll()
	}
	return clock.Snapshot{}
}

func (m Model) linkStatus() types.LinkStatus {
	if m.engine == nil {
		return types.LinkDisconnected
	}
	if l := m.engine.Link(); l != nil {
		return l.Status()
	}
	return types.LinkDisconnected
}

const (
	minWindowWidth  = 60
	minWindowHeight = 26
	footerHeight    = 3
)
