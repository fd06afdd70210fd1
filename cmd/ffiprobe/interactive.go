package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	ffibridge "github.com/wippyai/ffi-bridge"
	"github.com/wippyai/ffi-bridge/bridge"
	"github.com/wippyai/ffi-bridge/convert"
	"github.com/wippyai/ffi-bridge/guard"
	"github.com/wippyai/ffi-bridge/names"
)

const historySize = 5

type palette struct {
	title    lipgloss.Style
	symbol   lipgloss.Style
	typ      lipgloss.Style
	cursor   lipgloss.Style
	ok       lipgloss.Style
	failed   lipgloss.Style
	faint    lipgloss.Style
	disabled lipgloss.Style
}

var styles = palette{
	title: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#2D7D9A")).
		Padding(0, 1),
	symbol:   lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98")),
	typ:      lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB")),
	cursor:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#2D7D9A")),
	ok:       lipgloss.NewStyle().Foreground(lipgloss.Color("#90EE90")),
	failed:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
	faint:    lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
	disabled: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")),
}

type screen int

const (
	screenPick screen = iota
	screenArgs
	screenResult
)

// entry is one callable function
type entry struct {
	symbol string
	sig    guard.Signature
}

func (e entry) String() string {
	params := make([]string, len(e.sig.Params))
	for i, p := range e.sig.Params {
		params[i] = fmt.Sprintf("arg%d: %s", i, styles.typ.Render(convert.TypeString(p)))
	}
	out := styles.symbol.Render(e.symbol) + "(" + strings.Join(params, ", ") + ")"
	if len(e.sig.Results) > 0 {
		out += " -> " + styles.typ.Render(convert.TypeString(e.sig.Results[0]))
	}
	return out
}

// outcome is a finished call
type outcome struct {
	err     error
	symbol  string
	value   string
	elapsed time.Duration
}

type probeModel struct {
	loadErr error
	bridge  *bridge.Bridge
	opts    options
	entries []entry
	shown   []int
	history []outcome
	filter  textinput.Model
	args    []textinput.Model
	cursor  int
	focus   int
	screen  screen
}

type openedMsg struct {
	err     error
	bridge  *bridge.Bridge
	entries []entry
}

type calledMsg outcome

func newProbeModel(opts options) *probeModel {
	f := textinput.New()
	f.Prompt = "/ "
	f.Placeholder = "filter"
	f.Width = 30
	return &probeModel{opts: opts, filter: f}
}

func (m *probeModel) Init() tea.Cmd {
	return m.openLibrary
}

// openLibrary opens the library and collects callable functions: those of
// the interface file when given, otherwise every exported function, called
// without arguments.
func (m *probeModel) openLibrary() tea.Msg {
	ctx := context.Background()

	b, err := open(ctx, m.opts)
	if err != nil {
		return openedMsg{err: err}
	}
	entries, err := collectEntries(b, m.opts.wit)
	if err != nil {
		_ = b.Close(ctx)
		return openedMsg{err: err}
	}
	return openedMsg{bridge: b, entries: entries}
}

func collectEntries(b *bridge.Bridge, wit string) ([]entry, error) {
	ns := b.Namespace()
	var out []entry
	if wit != "" {
		sigs, err := readSignatures(wit)
		if err != nil {
			return nil, err
		}
		for _, s := range sigs {
			out = append(out, entry{symbol: ns + "_fn_" + s.Entity, sig: s})
		}
	} else if lister, ok := b.Library().(ffibridge.Lister); ok {
		p := names.Parser{Namespace: ns}
		for _, s := range lister.Symbols() {
			if p.Parse(s).Kind == names.KindFunction {
				out = append(out, entry{symbol: s, sig: guard.Signature{Entity: names.Entity(ns, s)}})
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no callable functions")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].symbol < out[j].symbol })
	return out, nil
}

func (m *probeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case openedMsg:
		if msg.err != nil {
			m.loadErr = msg.err
			return m, nil
		}
		m.bridge = msg.bridge
		m.entries = msg.entries
		m.applyFilter()
		return m, nil

	case calledMsg:
		m.history = append([]outcome{outcome(msg)}, m.history...)
		if len(m.history) > historySize {
			m.history = m.history[:historySize]
		}
		m.screen = screenResult
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || (m.loadErr != nil && msg.String() == "q") {
			return m, m.quit()
		}
		switch m.screen {
		case screenPick:
			return m.updatePick(msg)
		case screenArgs:
			return m.updateArgs(msg)
		case screenResult:
			return m.updateResult(msg)
		}
	}
	return m, nil
}

func (m *probeModel) quit() tea.Cmd {
	if m.bridge != nil {
		_ = m.bridge.Close(context.Background())
	}
	return tea.Quit
}

func (m *probeModel) updatePick(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.filter.Focused() {
		switch msg.String() {
		case "enter", "esc":
			m.filter.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.filter, cmd = m.filter.Update(msg)
		m.applyFilter()
		return m, cmd
	}

	switch msg.String() {
	case "q":
		return m, m.quit()
	case "/":
		return m, m.filter.Focus()
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.shown)-1 {
			m.cursor++
		}
	case "enter":
		if len(m.shown) == 0 {
			return m, nil
		}
		m.prepareArgs()
		if len(m.args) == 0 {
			return m, m.invoke
		}
		m.screen = screenArgs
	}
	return m, nil
}

func (m *probeModel) updateArgs(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.screen = screenPick
		m.args = nil
		return m, nil
	case "enter":
		return m, m.invoke
	case "tab", "shift+tab":
		if len(m.args) > 1 {
			m.args[m.focus].Blur()
			step := 1
			if msg.String() == "shift+tab" {
				step = len(m.args) - 1
			}
			m.focus = (m.focus + step) % len(m.args)
			return m, m.args[m.focus].Focus()
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.args[m.focus], cmd = m.args[m.focus].Update(msg)
	return m, cmd
}

func (m *probeModel) updateResult(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, m.quit()
	case "r":
		return m, m.invoke
	case "enter", "esc":
		m.screen = screenPick
	}
	return m, nil
}

func (m *probeModel) applyFilter() {
	q := strings.ToLower(strings.TrimSpace(m.filter.Value()))
	m.shown = m.shown[:0]
	for i, e := range m.entries {
		if q == "" || strings.Contains(strings.ToLower(e.symbol), q) {
			m.shown = append(m.shown, i)
		}
	}
	if m.cursor >= len(m.shown) {
		m.cursor = max(len(m.shown)-1, 0)
	}
}

func (m *probeModel) current() entry {
	return m.entries[m.shown[m.cursor]]
}

func (m *probeModel) prepareArgs() {
	e := m.current()
	m.args = make([]textinput.Model, len(e.sig.Params))
	for i, p := range e.sig.Params {
		ti := textinput.New()
		ti.Placeholder = convert.TypeString(p)
		ti.Prompt = fmt.Sprintf("arg%d: ", i)
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.args[i] = ti
	}
	m.focus = 0
}

func (m *probeModel) invoke() tea.Msg {
	e := m.current()
	raw := make([]string, len(m.args))
	for i, a := range m.args {
		raw[i] = a.Value()
	}

	start := time.Now()
	value, err := callDynamic(context.Background(), m.bridge, e.symbol, e.sig, raw)
	return calledMsg{symbol: e.symbol, value: value, err: err, elapsed: time.Since(start)}
}

func (m *probeModel) View() string {
	if m.loadErr != nil {
		return styles.failed.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.loadErr))
	}
	if m.bridge == nil {
		return "Opening library..."
	}

	var b strings.Builder
	b.WriteString(styles.title.Render("FFI Probe"))
	fmt.Fprintf(&b, " %s  namespace %s\n\n", libraryName(m.opts), m.bridge.Namespace())

	if p := m.bridge.Poisoned(); p != nil {
		b.WriteString(styles.disabled.Render("bridge disabled: " + p.Error()))
		b.WriteString("\n\n")
	}

	switch m.screen {
	case screenPick:
		b.WriteString(m.filter.View())
		b.WriteString("\n\n")
		for i, idx := range m.shown {
			line := m.entries[idx].String()
			if i == m.cursor {
				b.WriteString(styles.cursor.Render("> ") + line)
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		if len(m.shown) == 0 {
			b.WriteString(styles.faint.Render("  no match"))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(styles.faint.Render("↑/↓ select • / filter • enter call • q quit"))

	case screenArgs:
		e := m.current()
		fmt.Fprintf(&b, "Calling %s\n\n", styles.symbol.Render(e.symbol))
		for i, a := range m.args {
			b.WriteString(a.View())
			b.WriteString(" ")
			b.WriteString(styles.typ.Render(convert.TypeString(e.sig.Params[i])))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(styles.faint.Render("tab next field • enter call • esc back"))

	case screenResult:
		for i, o := range m.history {
			head := fmt.Sprintf("%s (%s)", o.symbol, o.elapsed.Round(time.Microsecond))
			if i == 0 {
				head = styles.symbol.Render(head)
			} else {
				head = styles.faint.Render(head)
			}
			b.WriteString(head)
			b.WriteString("\n  ")
			if o.err != nil {
				b.WriteString(styles.failed.Render(o.err.Error()))
			} else {
				b.WriteString(styles.ok.Render(o.value))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(styles.faint.Render("r repeat • enter back • q quit"))
	}

	return b.String()
}

func runInteractive(opts options) error {
	p := tea.NewProgram(newProbeModel(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
