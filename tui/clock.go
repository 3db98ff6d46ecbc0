package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/samaelod/duoclock/clock"
	"github.com/samaelod/duoclock/types"
)

const (
	hintStart          = "Press a side to start the clock"
	hintResume         = "Press a side to resume"
	hintSwitch         = "Press your side to switch the clock"
	hintReadOnlyStart  = "Use the physical clock to set the time. The time will mirror here"
	hintReadOnlyResume = "Press a side to resume. Pressing START will start a new game"

	statusConnecting = "connecting..."

	tickInterval = 100 * time.Millisecond
)

// press handles a side button. An idle clock starts the pressed side; while
// running only the running side's button is live and it hands the turn over.
// It reports whether the press changed anything.
func press(c *clock.Clock, side types.Side) (bool, error) {
	if _, lost := c.Loser(); lost {
		return false, nil
	}
	running, ok := c.Running()
	switch {
	case !ok:
		return true, c.StartSide(side)
	case running == side:
		return true, c.StartSide(side.Other())
	default:
		return false, nil
	}
}

// hint is the line shown under the clock faces.
func hint(s clock.Snapshot, hasStarted bool) string {
	switch {
	case s.HasRunning:
		return hintSwitch
	case s.ReadOnly && hasStarted:
		return hintReadOnlyResume
	case s.ReadOnly:
		return hintReadOnlyStart
	case hasStarted:
		return hintResume
	default:
		return hintStart
	}
}

func linkStatusLine(st types.LinkStatus, transport string) string {
	if st == types.LinkConnected {
		return "connected over " + transport
	}
	return statusConnecting
}

func sideName(s types.Side) string {
	return "Side " + strings.ToUpper(s.String())
}

// winnerLine is empty until a loser is known.
func winnerLine(s clock.Snapshot) string {
	if !s.HasLoser {
		return ""
	}
	return fmt.Sprintf("%s wins", sideName(s.Loser.Other()))
}

// progressBar renders p in [0, 1] as a fixed-width bar.
func progressBar(p float64, width int) string {
	if width <= 0 {
		return ""
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	filled := int(p*float64(width) + 0.5)
	return barFilled.Render(strings.Repeat("█", filled)) +
		barEmpty.Render(strings.Repeat("░", width-filled))
}

// tickMsg carries the id of the clock screen that scheduled it; ticks from
// an earlier session are dropped.
type tickMsg struct{ id int }

func tick(id int) tea.Cmd {
	return tea.Tick(tickInterval, func(time.Time) tea.Msg { return tickMsg{id: id} })
}
