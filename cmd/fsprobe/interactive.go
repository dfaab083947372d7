package main

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/canister-fs/canister"
	"github.com/wippyai/canister-fs/host"
	"github.com/wippyai/canister-fs/probe"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	entryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	debugStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newInteractiveCmd(opts *rootOptions) *cobra.Command {
	var wasmPath string

	cmd := &cobra.Command{
		Use:   "interactive",
		Short: "Pick and call probes from a terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return errors.New("interactive mode needs a terminal")
			}

			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(); err == nil {
					err = cerr
				}
			}()

			m := newInteractiveModel(a, wasmPath)
			defer m.close()
			_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
			return err
		},
	}
	cmd.Flags().StringVar(&wasmPath, "wasm", "", "Call methods of this canister module instead of the built-in probes")
	return cmd
}

type modelState int

const (
	stateSelect modelState = iota
	stateInput
	stateResult
)

type interactiveModel struct {
	err      error
	app      *app
	rt       *canister.Runtime
	instance *canister.Instance
	call     *host.Call
	title    string
	wasmPath string
	entries  []string
	input    textinput.Model
	selected int
	state    modelState
}

func newInteractiveModel(a *app, wasmPath string) *interactiveModel {
	title := "built-in probes"
	if wasmPath != "" {
		title = wasmPath
	}
	return &interactiveModel{
		app:      a,
		wasmPath: wasmPath,
		title:    title,
		state:    stateSelect,
	}
}

type loadedMsg struct {
	err      error
	rt       *canister.Runtime
	instance *canister.Instance
	entries  []string
}

type callResultMsg struct {
	err  error
	call *host.Call
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.load
}

func (m *interactiveModel) load() tea.Msg {
	if m.wasmPath == "" {
		return loadedMsg{entries: probe.Default().Names()}
	}
	rt, inst, err := m.app.loadCanister(context.Background(), m.wasmPath)
	if err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{rt: rt, instance: inst, entries: inst.Methods()}
}

func (m *interactiveModel) close() {
	if m.rt != nil {
		m.rt.Close(context.Background())
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInput {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelect && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelect && m.selected < len(m.entries)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelect:
				if len(m.entries) == 0 {
					return m, nil
				}
				m.input = textinput.New()
				m.input.Placeholder = "payload"
				m.input.Prompt = "payload: "
				m.input.Width = 40
				m.input.Focus()
				m.state = stateInput
				return m, nil

			case stateInput:
				return m, m.invoke

			case stateResult:
				m.reset()
			}

		case "esc":
			if m.state != stateSelect {
				m.reset()
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.rt = msg.rt
		m.instance = msg.instance
		m.entries = msg.entries

	case callResultMsg:
		m.call = msg.call
		m.err = msg.err
		m.state = stateResult
	}

	if m.state == stateInput {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *interactiveModel) reset() {
	m.state = stateSelect
	m.call = nil
	m.err = nil
}

func (m *interactiveModel) invoke() tea.Msg {
	ctx := context.Background()
	name := m.entries[m.selected]
	payload := []byte(m.input.Value())

	if m.instance != nil {
		call, err := m.instance.Call(ctx, name, payload)
		if err == nil {
			err = m.app.fsys.Sync()
		}
		return callResultMsg{call: call, err: err}
	}
	call, err := m.app.callProbe(ctx, name, payload)
	return callResultMsg{call: call, err: err}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateResult {
		return errorStyle.Render("Error: "+m.err.Error()) + "\n\n" + helpStyle.Render("q quit")
	}
	if m.entries == nil {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("fsprobe"))
	b.WriteString(" ")
	b.WriteString(m.title)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelect:
		b.WriteString("Select an entry point:\n\n")
		for i, name := range m.entries {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + name))
			} else {
				b.WriteString("  " + entryStyle.Render(name))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter choose • q quit"))

	case stateInput:
		b.WriteString("Calling " + entryStyle.Render(m.entries[m.selected]) + "\n\n")
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter call • esc back"))

	case stateResult:
		b.WriteString("Result of " + entryStyle.Render(m.entries[m.selected]) + ":\n\n")
		if m.call != nil {
			for _, line := range m.call.DebugLines() {
				b.WriteString(debugStyle.Render(line))
				b.WriteString("\n")
			}
			resp := m.call.Response()
			switch resp.Status {
			case host.StatusReplied:
				b.WriteString(resultStyle.Render("reply: " + string(resp.Payload)))
			case host.StatusRejected:
				b.WriteString(errorStyle.Render("reject: " + resp.Message))
			}
			b.WriteString("\n")
		}
		if m.err != nil {
			b.WriteString(errorStyle.Render("Error: " + m.err.Error()))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}
	return b.String()
}
