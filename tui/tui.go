package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/samaelod/duoclock/clock"
	"github.com/samaelod/duoclock/config"
	"github.com/samaelod/duoclock/engine"
)

// Options selects where the UI starts. Connect, Device and Script skip the
// menu; at most one should be set.
type Options struct {
	Version string
	Config  *config.Config
	Engine  *engine.Engine
	Connect string
	Device  string
	Script  string
}

type menuItem struct {
	title  string
	desc   string
	action menuAction
	preset config.Preset
}

func (i menuItem) Title() string       { return i.title }
func (i menuItem) Description() string { return i.desc }
func (i menuItem) FilterValue() string { return i.title }

func menuItems(cfg *config.Config) []list.Item {
	var items []list.Item
	for _, p := range cfg.Presets {
		a, b := p.Durations()
		desc := "Side A " + clock.Format(a)
		if a != b {
			desc += " • Side B " + clock.Format(b)
		}
		items = append(items, menuItem{title: p.Name, desc: desc, action: actionPreset, preset: p})
	}
	return append(items,
		menuItem{title: "Custom…", desc: "Set each side's time", action: actionCustom},
		menuItem{title: "Connect to clock…", desc: "Mirror a hardware clock", action: actionConnect},
		menuItem{title: "Emulate script…", desc: "Replay a script or capture and mirror it", action: actionEmulate},
	)
}

func newTimeInputs() []textinput.Model {
	inputs := make([]textinput.Model, 4)
	for i := range inputs {
		t := textinput.New()
		t.CharLimit = 3
		t.Width = 4
		t.Placeholder = "0"
		t.Validate = digitsOnly
		inputs[i] = t
	}
	inputs[0].Focus()
	return inputs
}

func digitsOnly(s string) error {
	for _, r := range s {
		if r < '0' || r > '9' {
			return fmt.Errorf("%q is not a number", s)
		}
	}
	return nil
}

func New(opts Options) Model {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	menu := list.New(menuItems(cfg), list.NewDefaultDelegate(), 0, 0)
	menu.SetShowTitle(false)
	menu.SetShowHelp(false)
	menu.SetShowStatusBar(false)
	menu.SetFilteringEnabled(false)

	addr := textinput.New()
	addr.Placeholder = "host:port or /dev/ttyACM0"
	addr.CharLimit = 256
	addr.Width = 40
	if cfg.Device != "" {
		addr.SetValue(cfg.Device)
	} else {
		addr.SetValue(cfg.Address)
	}

	return Model{
		screen:      screenModeSelect,
		cfg:         cfg,
		menu:        menu,
		timeInputs:  newTimeInputs(),
		address:     addr,
		fileBrowser: NewFileBrowser(engine.ScriptExtensions),
		engine:      opts.Engine,
		version:     opts.Version,
		logViewport: viewport.New(10, 10),
	}.withStart(opts)
}

// withStart jumps past the menu for sessions chosen on the command line.
func (m Model) withStart(opts Options) Model {
	switch {
	case opts.Script != "":
		m.screen = screenConnecting
		m.selectedFile = opts.Script
	case opts.Connect != "":
		m.screen = screenConnecting
		m.address.SetValue(opts.Connect)
	case opts.Device != "":
		m.screen = screenConnecting
		m.address.SetValue(opts.Device)
	}
	return m
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	if m.engine != nil {
		cmds = append(cmds, waitForLog(m.engine.Log))
	}
	if m.screen == screenConnecting {
		if m.selectedFile != "" {
			cmds = append(cmds, emulateCmd(m.engine, m.cfg, m.selectedFile, false))
		} else {
			cmds = append(cmds, connectCmd(m.engine, m.address.Value()))
		}
	}
	return tea.Batch(cmds...)
}

func Run(opts Options) error {
	p := tea.NewProgram(New(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
