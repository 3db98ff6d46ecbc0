package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/samaelod/duoclock/clock"
	"github.com/samaelod/duoclock/types"
)

func renderScrollbar(vp viewport.Model, height int) string {
	total := vp.TotalLineCount()
	visible := vp.VisibleLineCount()

	if total <= visible {
		return ""
	}

	trackHeight := height
	if trackHeight < 1 {
		trackHeight = visible
	}

	thumbPos := int(float64(trackHeight-1) * vp.ScrollPercent())
	if thumbPos < 0 {
		thumbPos = 0
	}
	if thumbPos > trackHeight-1 {
		thumbPos = trackHeight - 1
	}

	var sb strings.Builder
	for i := 0; i < trackHeight; i++ {
		if i == thumbPos {
			sb.WriteString(scrollbarThumb.Render("█"))
		} else {
			sb.WriteString(scrollbarTrack.Render("│"))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// keyHints renders "key desc • key desc ..." from pairs.
func keyHints(pairs ...string) string {
	sep := styleDesc.Render(" • ")
	var parts []string
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, styleKey.Render(pairs[i])+styleDesc.Render(" "+pairs[i+1]))
	}
	return strings.Join(parts, sep)
}

func (m Model) View() string {
	windowWidth := m.width - 4
	windowHeight := m.height - 4

	if windowWidth < minWindowWidth || windowHeight < minWindowHeight {
		return styleScreenTooSmall.
			Width(m.width).
			Height(m.height).
			Render("Terminal window is too small.\nPlease resize.")
	}

	appTitle := styleAppTitle.Width(windowWidth).Render("DUOCLOCK " + m.version)

	var content string
	switch m.screen {
	case screenModeSelect:
		content = m.viewModeSelect(windowWidth, windowHeight)
	case screenCustom:
		content = m.viewCustom(windowWidth, windowHeight)
	case screenAddress:
		content = m.viewAddress(windowWidth, windowHeight)
	case screenFilePicker:
		content = m.viewFilePicker(windowWidth, windowHeight)
	case screenConnecting:
		content = m.viewConnecting(windowWidth, windowHeight)
	case screenClock:
		content = m.viewClock(windowWidth, windowHeight)
	}

	return styleWindow.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(lipgloss.JoinVertical(lipgloss.Top, appTitle, content))
}

func (m Model) errorLine() string {
	if m.err == nil {
		return ""
	}
	return styleError.Render("Error: " + m.err.Error())
}

func (m Model) centered(width, height int, parts ...string) string {
	return lipgloss.Place(
		width, height-1,
		lipgloss.Center, lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Center, parts...),
	)
}

func (m Model) viewModeSelect(width, height int) string {
	return m.centered(width, height,
		styleTitle.Render("New Game"),
		"",
		m.menu.View(),
		"",
		keyHints("↑/↓", "move", "enter", "select", "q", "quit"),
	)
}

func (m Model) viewCustom(width, height int) string {
	row := func(label string, minutes, seconds int) string {
		return lipgloss.JoinHorizontal(lipgloss.Center,
			styleLabel.Render(label),
			m.timeInputs[minutes].View(), styleSubtext.Render(" min "),
			m.timeInputs[seconds].View(), styleSubtext.Render(" sec"),
		)
	}
	return m.centered(width, height,
		styleTitle.Render("Custom Time"),
		"",
		row("Side A", 0, 1),
		row("Side B", 2, 3),
		"",
		m.errorLine(),
		keyHints("tab", "next", "enter", "start", "esc", "back"),
	)
}

func (m Model) viewAddress(width, height int) string {
	return m.centered(width, height,
		styleTitle.Render("Connect to Clock"),
		"",
		styleSubtext.Render("Bridge address or serial device"),
		m.address.View(),
		"",
		m.errorLine(),
		keyHints("enter", "connect", "esc", "back"),
	)
}

func (m Model) viewConnecting(width, height int) string {
	status := statusConnecting
	if m.selectedFile != "" {
		status = "starting emulator for " + m.selectedFile + "..."
	}
	if m.err != nil {
		status = m.errorLine()
	}
	return m.centered(width, height, status, "", keyHints("esc", "back", "q", "quit"))
}

func (m Model) viewFilePicker(width, height int) string {
	listWidth := width / 3
	previewWidth := width - listWidth
	panelHeight := height - 1

	browserColor := colorSecondary
	if m.fileBrowser.HasValidFilesInDir(m.fileBrowser.CurrentDir) {
		browserColor = colorSuccess
	}

	previewColor := colorSecondary
	if fi, ok := m.fileBrowser.List.SelectedItem().(fileItem); ok && !fi.isDir {
		if m.fileBrowser.SelectedHasValidExtension() {
			previewColor = colorSuccess
		} else {
			previewColor = colorError
		}
	}

	browserTitle := styleTitle.MarginBottom(1).Render("Select Script")
	browserView := stylePanelTitled.
		BorderForeground(browserColor).
		Width(listWidth - 4).
		Height(panelHeight).
		Render(browserTitle + "\n" + m.fileBrowser.View())

	contentHeight := panelHeight - 5
	previewLines := strings.Split(m.fileBrowser.PreviewContent, "\n")
	if len(previewLines) > contentHeight && contentHeight > 1 {
		previewLines = append(previewLines[:contentHeight-1], "...")
	}
	previewTitle := styleTitle.MarginBottom(1).Render("Preview")
	previewView := stylePanelTitled.
		BorderForeground(previewColor).
		Width(previewWidth).
		Height(panelHeight).
		Render(previewTitle + "\n" + strings.Join(previewLines, "\n"))

	return lipgloss.JoinHorizontal(lipgloss.Top, browserView, previewView)
}

func (m Model) renderFace(side types.Side, width int, compact bool) string {
	s := m.snap
	style := styleFace
	switch {
	case s.HasLoser && s.Loser == side:
		style = styleFaceLost
	case s.HasRunning && s.Running == side:
		style = styleFaceActive
	}

	name := sideName(side)
	remaining := styleTime.Render(clock.Format(s.Remaining(side)))
	inner := width - 8 // border and padding
	if compact {
		return style.Padding(0, 1).Width(width - 2).
			Render(name + "  " + remaining)
	}
	return style.Width(width - 2).Render(lipgloss.JoinVertical(lipgloss.Center,
		name,
		"",
		remaining,
		"",
		progressBar(s.Progress(side), inner),
	))
}

func (m Model) viewClock(width, height int) string {
	s := m.snap
	logsHeight := m.logsHeight()
	clockHeight := height - 1 - footerHeight - logsHeight

	var status string
	if m.mirroring() {
		status = linkStatusLine(m.linkStatus(), m.transport)
		if err := m.engine.Err(); err != nil {
			status += "  " + styleError.Render(err.Error())
		}
	} else {
		status = "local game"
	}

	faceWidth := width / 2
	compact := clockHeight < 12
	faces := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderFace(types.SideA, faceWidth, compact),
		m.renderFace(types.SideB, width-faceWidth, compact),
	)

	below := hint(s, m.hasStarted)
	if w := winnerLine(s); w != "" {
		below = styleWinner.Render(w)
	}
	clockArea := lipgloss.Place(width, clockHeight, lipgloss.Center, lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Center,
			styleSubtext.Render(status),
			faces,
			below,
			m.errorLine(),
		))

	logsColor := colorSubtext
	if m.activeView == 1 {
		logsColor = colorSecondary
	}
	scrollbar := scrollbarTrack.Width(1).Render(renderScrollbar(m.logViewport, m.logViewport.Height))
	logsContent := styleTitle.MarginBottom(1).Render("Logs") + "\n" +
		lipgloss.JoinHorizontal(lipgloss.Top, m.logViewport.View(), scrollbar)
	logsView := stylePanelTitled.
		BorderForeground(logsColor).
		Width(width - 2).
		Height(logsHeight - 2).
		Render(logsContent)

	var footer string
	switch {
	case m.activeView == 1:
		footer = keyHints("<tab>", "clock", "e", "editor", "g", "top", "G", "bottom", "q", "quit")
	case m.local == nil:
		footer = keyHints("<tab>", "logs", "esc", "disconnect", "q", "quit")
	default:
		footer = keyHints("<tab>", "logs", "a/←", "side A", "b/→", "side B",
			"space", "pause", "r", "restart", "esc", "menu", "q", "quit")
	}
	footerView := styleFooter.Width(width - 2).Render(footer)

	return lipgloss.JoinVertical(lipgloss.Top, clockArea, logsView, footerView)
}
