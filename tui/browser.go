package tui

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/samaelod/duoclock/engine"
	"github.com/samaelod/duoclock/types"
)

// FileBrowser lists directories and the scripts or captures the emulator
// can replay, with a summary of the highlighted file.
type FileBrowser struct {
	List           list.Model
	CurrentDir     string
	Selected       string
	PreviewContent string
	Height         int
	Width          int
	Err            error
	AllowedTypes   []string

	previewed string
}

type fileItem struct {
	name  string
	path  string
	isDir bool
	size  int64
}

func (i fileItem) Title() string {
	if i.isDir {
		return i.name + "/"
	}
	return i.name
}

func (i fileItem) Description() string {
	if i.isDir {
		return "Directory"
	}
	return fmt.Sprintf("File • %d bytes", i.size)
}

func (i fileItem) FilterValue() string { return i.name }

type browserDelegate struct {
	allowed func(name string) bool
}

func (d browserDelegate) Height() int                               { return 1 }
func (d browserDelegate) Spacing() int                              { return 0 }
func (d browserDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }
func (d browserDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(fileItem)
	if !ok {
		return
	}

	str := i.Title()
	var style lipgloss.Style
	switch {
	case index == m.Index():
		style = styleSelected
		str = "> " + str
	case i.isDir:
		style = lipgloss.NewStyle().Foreground(colorText).Bold(true)
		str = "  " + str
	case d.allowed(i.name):
		style = lipgloss.NewStyle().Foreground(colorPrimary)
		str = "  " + str
	default:
		style = lipgloss.NewStyle().Foreground(colorSubtext).Faint(true)
		str = "  " + str
	}

	fmt.Fprint(w, style.Render(str))
}

func NewFileBrowser(allowedTypes []string) FileBrowser {
	cwd, _ := os.Getwd()

	fb := FileBrowser{
		CurrentDir:   cwd,
		AllowedTypes: allowedTypes,
	}

	l := list.New([]list.Item{}, browserDelegate{allowed: fb.allowed}, 0, 0)
	l.SetShowTitle(false)
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	fb.List = l

	fb.refreshDir()
	return fb
}

func (fb FileBrowser) allowed(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range fb.AllowedTypes {
		if ext == strings.ToLower(a) {
			return true
		}
	}
	return false
}

func (fb *FileBrowser) refreshDir() {
	entries, err := os.ReadDir(fb.CurrentDir)
	if err != nil {
		fb.Err = err
		return
	}
	fb.Err = nil

	var items []list.Item
	if parent := filepath.Dir(fb.CurrentDir); parent != fb.CurrentDir {
		items = append(items, fileItem{name: "..", path: parent, isDir: true})
	}

	// Directories first, then files, each by name.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		item := fileItem{
			name:  e.Name(),
			path:  filepath.Join(fb.CurrentDir, e.Name()),
			isDir: e.IsDir(),
		}
		if info, err := e.Info(); err == nil {
			item.size = info.Size()
		}
		items = append(items, item)
	}

	fb.List.SetItems(items)
	fb.previewed = ""
	fb.updatePreview()
}

func (fb *FileBrowser) HasValidFilesInDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") && fb.allowed(e.Name()) {
			return true
		}
	}
	return false
}

func (fb *FileBrowser) SelectedHasValidExtension() bool {
	return fb.Selected != "" && fb.allowed(fb.Selected)
}

// summarize describes what the emulator would send for script.
func summarize(script *types.Script, maxFrames int) string {
	var sb strings.Builder
	g := script.Globals
	fmt.Fprintf(&sb, "address  %s\n", orDefault(g.Address, "(listen address from config)"))
	fmt.Fprintf(&sb, "delay    %d ms\n", g.Delay)
	fmt.Fprintf(&sb, "loop     %t\n", g.Loop)
	fmt.Fprintf(&sb, "frames   %d\n\n", len(script.Frames))

	for i, f := range script.Frames {
		if i == maxFrames {
			fmt.Fprintf(&sb, "... %d more\n", len(script.Frames)-maxFrames)
			break
		}
		args := make([]string, len(f.Args))
		for j, a := range f.Args {
			args[j] = fmt.Sprint(a)
		}
		fmt.Fprintf(&sb, "+%-6d %-10s %s\n", f.TDelta, f.Kind, strings.Join(args, " "))
	}
	return sb.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (fb *FileBrowser) updatePreview() {
	fi, ok := fb.List.SelectedItem().(fileItem)
	if !ok {
		fb.PreviewContent = ""
		return
	}
	if fi.isDir {
		fb.PreviewContent = "Directory: " + fi.name
		return
	}

	fb.Selected = fi.path
	if fb.previewed == fi.path {
		return
	}
	fb.previewed = fi.path

	if !fb.allowed(fi.name) {
		fb.PreviewContent = "File type not supported."
		return
	}

	maxFrames := fb.Height - 8
	if maxFrames < 5 {
		maxFrames = 5
	}

	script, err := engine.LoadScript(fi.path)
	if err != nil {
		fb.PreviewContent = "Cannot read " + fi.name + ":\n\n" + err.Error()
		return
	}
	fb.PreviewContent = summarize(script, maxFrames)
}

func (fb FileBrowser) Update(msg tea.Msg) (FileBrowser, tea.Cmd) {
	var cmd tea.Cmd
	fb.List, cmd = fb.List.Update(msg)
	fb.updatePreview()

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "enter":
			if fi, ok := fb.List.SelectedItem().(fileItem); ok && fi.isDir {
				fb.CurrentDir = fi.path
				fb.refreshDir()
				fb.List.ResetSelected()
			}
			// Files are handled by the parent through Selected.
		case "backspace", "left":
			if parent := filepath.Dir(fb.CurrentDir); parent != fb.CurrentDir {
				fb.CurrentDir = parent
				fb.refreshDir()
				fb.List.ResetSelected()
			}
		}
	}

	return fb, cmd
}

func (fb *FileBrowser) SetSize(width, height int) {
	fb.Width = width
	fb.Height = height
	fb.List.SetSize(width, height)
}

func (fb FileBrowser) View() string {
	return fb.List.View()
}
