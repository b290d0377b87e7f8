// Package prompt asks for missing connection values on the terminal.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lockplane/migrun/internal/connection"
)

// ErrAborted is returned when the user cancels the prompt.
var ErrAborted = errors.New("prompt aborted")

// Terminal prompts on an interactive terminal, one field at a time.
type Terminal struct {
	In  io.Reader
	Out io.Writer
}

// NewTerminal prompts on stdin, rendering to stderr so stdout stays clean
// for reports.
func NewTerminal() *Terminal {
	return &Terminal{In: os.Stdin, Out: os.Stderr}
}

// Ask implements connection.Prompter.
func (t *Terminal) Ask(ctx context.Context, field connection.Field) (string, error) {
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if t.In != nil {
		opts = append(opts, tea.WithInput(t.In))
	}
	if t.Out != nil {
		opts = append(opts, tea.WithOutput(t.Out))
	}

	final, err := tea.NewProgram(newModel(field), opts...).Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("failed to run prompt: %w", err)
	}

	m, ok := final.(model)
	if !ok {
		return "", fmt.Errorf("unexpected prompt model %T", final)
	}
	if m.aborted {
		return "", ErrAborted
	}
	return m.Value(), nil
}

type model struct {
	field   connection.Field
	input   textinput.Model
	err     string
	done    bool
	aborted bool
}

func newModel(field connection.Field) model {
	input := textinput.New()
	input.Placeholder = field.Placeholder
	input.CharLimit = 512
	input.Width = 60
	if field.Secret {
		input.EchoMode = textinput.EchoPassword
		input.EchoCharacter = '•'
	}
	input.Focus()

	return model{field: field, input: input}
}

// Value is the trimmed entered value.
func (m model) Value() string {
	return strings.TrimSpace(m.input.Value())
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.aborted = true
			return m, tea.Quit
		case tea.KeyEnter:
			// An empty password is valid for trust-authenticated databases.
			if m.Value() == "" && !m.field.Secret {
				m.err = m.label() + " is required"
				return m, nil
			}
			m.done = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.err != "" && m.Value() != "" {
		m.err = ""
	}
	return m, cmd
}

func (m model) View() string {
	if m.done || m.aborted {
		return ""
	}

	var b strings.Builder
	b.WriteString(renderLabel(m.label(), m.field.Secret))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	if m.err != "" {
		b.WriteString(renderError(m.err))
		b.WriteString("\n")
	}
	b.WriteString(renderHint("enter to confirm • esc to cancel"))
	b.WriteString("\n")
	return b.String()
}

func (m model) label() string {
	if m.field.Label != "" {
		return m.field.Label
	}
	return m.field.Name
}
