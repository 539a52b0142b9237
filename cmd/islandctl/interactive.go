package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hermes-islands/config"
	"github.com/wippyai/hermes-islands/engine"
	"github.com/wippyai/hermes-islands/event"
	"github.com/wippyai/hermes-islands/island"
	"github.com/wippyai/hermes-islands/vm"
)

const eventTail = 8

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA07A"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type interactiveModel struct {
	ctx      context.Context
	err      error
	machine  *vm.VM
	host     *engine.Host
	island   *island.Island
	recorder *event.Recorder
	filename string
	result   string
	funcs    []engine.Export
	inputs   []textinput.Model
	elapsed  time.Duration
	selected int
	focusIdx int
	state    modelState
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

func newInteractiveModel(ctx context.Context, machine *vm.VM, host *engine.Host, isl *island.Island, filename string) *interactiveModel {
	return &interactiveModel{
		ctx:      ctx,
		machine:  machine,
		host:     host,
		island:   isl,
		recorder: event.NewRecorder(machine.Events()),
		filename: filename,
		state:    stateSelectFunc,
	}
}

type loadedMsg struct {
	err   error
	funcs []engine.Export
}

type callResultMsg struct {
	err     error
	result  string
	elapsed time.Duration
}

type unloadedMsg struct {
	err error
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadIsland
}

func (m *interactiveModel) loadIsland() tea.Msg {
	funcs, err := m.host.Exports(m.ctx, m.filename)
	if err != nil {
		return loadedMsg{err: err}
	}
	if err := m.machine.LoadModule(m.ctx, m.island, m.filename); err != nil {
		return loadedMsg{err: err}
	}
	if err := m.machine.LinkAll(m.ctx, m.island); err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{funcs: funcs}
}

func (m *interactiveModel) unloadIsland() tea.Msg {
	return unloadedMsg{err: m.machine.UnloadIsland(m.ctx, m.island)}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "u":
			if m.state == stateSelectFunc && m.island.State() == island.Linked {
				return m, m.unloadIsland
			}

		case "l":
			if m.state == stateSelectFunc && m.island.State() == island.Unloaded {
				m.err = nil
				return m, m.loadIsland
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) == 0 {
					break
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.callFunction

			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectFunc
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.funcs = msg.funcs
		if m.selected >= len(m.funcs) {
			m.selected = 0
		}

	case unloadedMsg:
		m.err = msg.err

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.elapsed = msg.elapsed
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) prepareInputs() {
	f := m.funcs[m.selected]
	m.inputs = make([]textinput.Model, len(f.Params))
	for i, p := range f.Params {
		ti := textinput.New()
		ti.Placeholder = api.ValueTypeName(p)
		ti.Prompt = fmt.Sprintf("arg%d: ", i)
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) callFunction() tea.Msg {
	f := m.funcs[m.selected]
	args := make([]any, len(m.inputs))
	for i, input := range m.inputs {
		args[i] = input.Value()
	}

	start := time.Now()
	res, err := m.machine.RunMain(m.ctx, m.island, f.Name, args...)
	elapsed := time.Since(start)
	if err != nil {
		return callResultMsg{err: err, elapsed: elapsed}
	}
	if len(res.Values) == 0 {
		return callResultMsg{result: "(no results)", elapsed: elapsed}
	}
	return callResultMsg{result: formatValues(res.Values), elapsed: elapsed}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult && len(m.funcs) == 0 {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if len(m.funcs) == 0 {
		return "Loading module..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Island " + m.island.Name()))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString(" ")
	b.WriteString(typeStyle.Render(fmt.Sprintf("[%s, budget %s]", m.island.State(), m.island.Budget())))
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		b.WriteString("Select a function to call:\n\n")
		for i, f := range m.funcs {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + formatFunc(f)))
			} else {
				b.WriteString("  " + formatFunc(f))
			}
			b.WriteString("\n")
		}
		if m.err != nil {
			b.WriteString("\n")
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • u unload • l load • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(f.Name)))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(api.ValueTypeName(f.Params[i])))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s (%s):\n\n", funcStyle.Render(f.Name), m.elapsed.Round(time.Microsecond)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	b.WriteString("\n\n")
	b.WriteString(m.eventsView())
	return b.String()
}

func (m *interactiveModel) eventsView() string {
	events := m.recorder.Island(m.island.Name())
	if len(events) > eventTail {
		events = events[len(events)-eventTail:]
	}

	var b strings.Builder
	b.WriteString(helpStyle.Render("Recent events:"))
	b.WriteString("\n")
	for _, e := range events {
		line := "  " + e.String()
		if e.Kind.Failure() {
			line = failStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func formatFunc(f engine.Export) string {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = fmt.Sprintf("arg%d: %s", i, typeStyle.Render(api.ValueTypeName(p)))
	}
	result := ""
	if len(f.Results) > 0 {
		results := make([]string, len(f.Results))
		for i, r := range f.Results {
			results[i] = api.ValueTypeName(r)
		}
		result = " -> " + typeStyle.Render(strings.Join(results, ", "))
	}
	return funcStyle.Render(f.Name) + "(" + strings.Join(params, ", ") + ")" + result
}

func runInteractive(ctx context.Context, machine *vm.VM, host *engine.Host, name, filename string, cfg *config.Config) error {
	isl := machine.CreateIsland(name, cfg.Budget)
	p := tea.NewProgram(newInteractiveModel(ctx, machine, host, isl, filename), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
