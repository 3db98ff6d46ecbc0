package tui

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/samaelod/duoclock/clock"
	"github.com/samaelod/duoclock/config"
	"github.com/samaelod/duoclock/engine"
	"github.com/samaelod/duoclock/lua"
	"github.com/samaelod/duoclock/types"
)

var (
	errNoEngine = errors.New("no link engine available")
	errNoTime   = errors.New("both sides need some time")
)

type connectedMsg struct {
	transport string
	target    string
}

type errMsg struct{ err error }
type editorFinishedMsg struct{ err error }
type logMsg struct{}

// isDevice tells a serial device path apart from a bridge address.
func isDevice(target string) bool {
	return filepath.IsAbs(target) || strings.HasPrefix(strings.ToUpper(target), "COM")
}

func connectCmd(e *engine.Engine, target string) tea.Cmd {
	return func() tea.Msg {
		if e == nil {
			return errMsg{errNoEngine}
		}
		if target == "" {
			return errMsg{errors.New("no address or device given")}
		}
		if isDevice(target) {
			if err := e.OpenDevice(target); err != nil {
				return errMsg{err}
			}
			return connectedMsg{transport: "USB", target: target}
		}
		if err := e.Dial(target); err != nil {
			return errMsg{err}
		}
		return connectedMsg{transport: "TCP", target: target}
	}
}

// emulateCmd loads a script, starts the emulator and mirrors it over
// loopback. Picked files are copied into the recent directory.
func emulateCmd(e *engine.Engine, cfg *config.Config, path string, saveCopy bool) tea.Cmd {
	return func() tea.Msg {
		if e == nil {
			return errMsg{errNoEngine}
		}
		script, err := engine.LoadScript(path)
		if err != nil {
			return errMsg{err}
		}
		if saveCopy {
			if _, err := lua.SaveToRecent(cfg, script, path); err != nil {
				return errMsg{err}
			}
		}

		addr := script.Globals.Address
		if addr == "" {
			addr = cfg.ListenAddress
		}
		ln, err := e.Serve(addr, *script)
		if err != nil {
			return errMsg{err}
		}
		if err := e.Dial(ln.String()); err != nil {
			return errMsg{err}
		}
		return connectedMsg{transport: "TCP", target: ln.String()}
	}
}

func openLogsInEditor(logContent string) tea.Cmd {
	f, err := os.CreateTemp("", "duoclock-logs-*.log")
	if err != nil {
		return func() tea.Msg { return errMsg{err} }
	}
	if _, err := f.WriteString(logContent); err != nil {
		f.Close()
		return func() tea.Msg { return errMsg{err} }
	}
	f.Close()
	tempPath := f.Name()

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "nano"
	}
	c := exec.Command(editor, tempPath)
	return tea.ExecProcess(c, func(err error) tea.Msg {
		os.Remove(tempPath)
		return editorFinishedMsg{err}
	})
}

func waitForLog(logger *engine.Logger) tea.Cmd {
	return func() tea.Msg {
		ch := logger.Updates()
		if ch == nil {
			return nil
		}
		if _, ok := <-ch; !ok {
			return nil
		}
		return logMsg{}
	}
}

// layout sizes the widgets that keep their own dimensions. Must agree
// with View.
func (m *Model) layout() {
	windowWidth := m.width - 4
	windowHeight := m.height - 4

	m.menu.SetSize(windowWidth/2, windowHeight-6)

	listWidth := 30
	if listWidth > windowWidth/3 {
		listWidth = windowWidth / 3
	}
	if listWidth < 20 {
		listWidth = 20
	}
	m.fileBrowser.SetSize(listWidth-4, windowHeight-5)

	logsHeight := m.logsHeight()
	m.logViewport.Width = windowWidth - 7 // padding, border and scrollbar
	m.logViewport.Height = logsHeight - 4 // border, title and its margin
	if m.logViewport.Height < 1 {
		m.logViewport.Height = 1
	}
}

func (m Model) logsHeight() int {
	avail := m.height - 4 - 1 - footerHeight
	if m.activeView == 1 {
		return avail * 70 / 100
	}
	return avail * 35 / 100
}

// startClock enters the clock screen and starts its tick loop.
func (m Model) startClock() (Model, tea.Cmd) {
	m.screen = screenClock
	m.err = nil
	m.hasStarted = false
	m.activeView = 0
	m.tickID++
	m.snap = m.poll()
	m.layout()
	return m, tick(m.tickID)
}

// backToMenu ends the current session.
func (m Model) backToMenu() Model {
	if m.engine != nil {
		m.engine.Stop()
	}
	m.local = nil
	m.transport = ""
	m.selectedFile = ""
	m.err = nil
	m.screen = screenModeSelect
	m.tickID++
	return m
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case tickMsg:
		if msg.id != m.tickID || m.screen != screenClock {
			return m, nil
		}
		m.snap = m.poll()
		if m.snap.HasRunning {
			m.hasStarted = true
		}
		return m, tick(m.tickID)

	case logMsg:
		if m.engine == nil {
			return m, nil
		}
		atBottom := m.logViewport.AtBottom()
		m.logViewport.SetContent(m.engine.Log.ReadAll())
		if atBottom {
			m.logViewport.GotoBottom()
		}
		return m, waitForLog(m.engine.Log)

	case connectedMsg:
		m.transport = msg.transport
		return m.startClock()

	case errMsg:
		m.err = msg.err
		return m, nil

	case editorFinishedMsg:
		if msg.err != nil {
			m.err = msg.err
		}
		return m, nil
	}

	switch m.screen {
	case screenModeSelect:
		return m.updateModeSelect(msg)
	case screenCustom:
		return m.updateCustom(msg)
	case screenAddress:
		return m.updateAddress(msg)
	case screenFilePicker:
		return m.updateFilePicker(msg)
	case screenConnecting:
		if msg, ok := msg.(tea.KeyMsg); ok {
			switch msg.String() {
			case "q":
				return m, tea.Quit
			case "esc":
				return m.backToMenu(), nil
			}
		}
		return m, nil
	case screenClock:
		return m.updateClock(msg)
	}
	return m, nil
}

func (m Model) updateModeSelect(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "q", "esc":
			return m, tea.Quit
		case "enter":
			item, ok := m.menu.SelectedItem().(menuItem)
			if !ok {
				return m, nil
			}
			switch item.action {
			case actionPreset:
				a, b := item.preset.Durations()
				m.local = clock.New(a, b)
				return m.startClock()
			case actionCustom:
				m.screen = screenCustom
				m.err = nil
				return m, m.focusTimeInput(0)
			case actionConnect:
				m.screen = screenAddress
				m.err = nil
				return m, m.address.Focus()
			case actionEmulate:
				m.screen = screenFilePicker
				m.err = nil
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	m.menu, cmd = m.menu.Update(msg)
	return m, cmd
}

func (m *Model) focusTimeInput(i int) tea.Cmd {
	m.focus = (i + len(m.timeInputs)) % len(m.timeInputs)
	for j := range m.timeInputs {
		m.timeInputs[j].Blur()
	}
	return m.timeInputs[m.focus].Focus()
}

// customTimes reads the custom entry as two durations.
func customTimes(inputs []textinput.Model) (time.Duration, time.Duration, error) {
	vals := make([]int, len(inputs))
	for i, in := range inputs {
		s := strings.TrimSpace(in.Value())
		if s == "" {
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return 0, 0, fmt.Errorf("%q is not a number", s)
		}
		vals[i] = v
	}
	a := time.Duration(vals[0])*time.Minute + time.Duration(vals[1])*time.Second
	b := time.Duration(vals[2])*time.Minute + time.Duration(vals[3])*time.Second
	if a <= 0 || b <= 0 {
		return 0, 0, errNoTime
	}
	return a, b, nil
}

func (m Model) updateCustom(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "esc":
			m.screen = screenModeSelect
			m.err = nil
			return m, nil
		case "tab", "down":
			return m, m.focusTimeInput(m.focus + 1)
		case "shift+tab", "up":
			return m, m.focusTimeInput(m.focus - 1)
		case "enter":
			a, b, err := customTimes(m.timeInputs)
			if err != nil {
				m.err = err
				return m, nil
			}
			m.local = clock.New(a, b)
			return m.startClock()
		}
	}

	var cmd tea.Cmd
	m.timeInputs[m.focus], cmd = m.timeInputs[m.focus].Update(msg)
	return m, cmd
}

func (m Model) updateAddress(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "esc":
			m.address.Blur()
			m.screen = screenModeSelect
			m.err = nil
			return m, nil
		case "enter":
			m.address.Blur()
			m.screen = screenConnecting
			m.err = nil
			return m, connectCmd(m.engine, strings.TrimSpace(m.address.Value()))
		}
	}

	var cmd tea.Cmd
	m.address, cmd = m.address.Update(msg)
	return m, cmd
}

func (m Model) updateFilePicker(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "esc":
			m.screen = screenModeSelect
			m.err = nil
			return m, nil
		case "enter":
			if fi, ok := m.fileBrowser.List.SelectedItem().(fileItem); ok && !fi.isDir {
				if !m.fileBrowser.SelectedHasValidExtension() {
					return m, nil
				}
				m.selectedFile = m.fileBrowser.Selected
				m.screen = screenConnecting
				m.err = nil
				return m, emulateCmd(m.engine, m.cfg, m.selectedFile, true)
			}
		}
	}

	var cmd tea.Cmd
	m.fileBrowser, cmd = m.fileBrowser.Update(msg)
	return m, cmd
}

func (m Model) updateClock(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		if m.activeView == 1 {
			var cmd tea.Cmd
			m.logViewport, cmd = m.logViewport.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	switch key.String() {
	case "q":
		return m, tea.Quit
	case "esc":
		return m.backToMenu(), nil
	case "tab":
		m.activeView = 1 - m.activeView
		m.layout()
		return m, nil
	}

	if m.activeView == 1 {
		switch key.String() {
		case "e":
			if m.engine != nil {
				return m, openLogsInEditor(m.engine.Log.ReadAll())
			}
		case "g":
			m.logViewport.GotoTop()
		case "G":
			m.logViewport.GotoBottom()
		default:
			var cmd tea.Cmd
			m.logViewport, cmd = m.logViewport.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	// Mirrored sessions are driven by the hardware only.
	if m.local == nil {
		return m, nil
	}

	var err error
	switch key.String() {
	case "a", "left":
		var changed bool
		changed, err = press(m.local, types.SideA)
		m.hasStarted = m.hasStarted || changed
	case "b", "right":
		var changed bool
		changed, err = press(m.local, types.SideB)
		m.hasStarted = m.hasStarted || changed
	case " ", "p":
		if m.snap.HasRunning {
			err = m.local.Pause()
		}
	case "r":
		err = m.local.Restart()
		m.hasStarted = false
	}
	if err != nil {
		m.err = err
	}
	m.snap = m.poll()
	return m, nil
}
