package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	colorPrimary   = lipgloss.Color("#7D56F4") // Purple
	colorSecondary = lipgloss.Color("#F4A956") // Orange
	colorText      = lipgloss.Color("#FAFAFA") // White/Light Gray
	colorSubtext   = lipgloss.Color("#777777") // Gray
	colorSuccess   = lipgloss.Color("#43BF6D") // Green
	colorError     = lipgloss.Color("#FF5F5F") // Red

	styleWindow = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(colorPrimary).
			Align(lipgloss.Center)

	// Panel with the title on its first line
	stylePanelTitled = lipgloss.NewStyle().
				Border(lipgloss.ThickBorder()).
				BorderForeground(colorSubtext).
				Padding(0, 1)

	styleTitle = lipgloss.NewStyle().
			Background(colorPrimary).
			Foreground(colorText).
			Padding(0, 1).
			Bold(true)

	styleAppTitle = lipgloss.NewStyle().
			Foreground(colorSecondary).
			Bold(true).
			Padding(0, 1).
			Align(lipgloss.Center)

	styleSelected = lipgloss.NewStyle().
			Foreground(colorSecondary).
			Bold(true)

	styleSubtext = lipgloss.NewStyle().
			Foreground(colorSubtext)

	styleError = lipgloss.NewStyle().
			Foreground(colorError)

	styleLabel = lipgloss.NewStyle().
			Foreground(colorSubtext).
			Width(10)

	// Clock faces
	styleFace = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(colorSubtext).
			Padding(1, 2).
			Align(lipgloss.Center)

	styleFaceActive = styleFace.
			BorderForeground(colorSecondary)

	styleFaceLost = styleFace.
			BorderForeground(colorError)

	styleTime = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	styleWinner = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	barFilled = lipgloss.NewStyle().Foreground(colorPrimary)
	barEmpty  = lipgloss.NewStyle().Foreground(colorSubtext)

	styleScreenTooSmall = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true).
				Align(lipgloss.Center, lipgloss.Center)

	// Scrollbar styles
	scrollbarTrack = lipgloss.NewStyle().
			Foreground(colorSubtext)

	scrollbarThumb = lipgloss.NewStyle().
			Foreground(colorPrimary)

	// Footer
	styleKey  = lipgloss.NewStyle().Foreground(colorSecondary).Bold(true)
	styleDesc = lipgloss.NewStyle().Foreground(colorSubtext)

	styleFooter = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(colorSubtext).
			Padding(0, 1)
)
