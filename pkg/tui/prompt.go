package tui

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// EnvPassphrase supplies the passphrase without prompting
const EnvPassphrase = "NOSTRBOX_PASSPHRASE"

var (
	ErrCancelled    = errors.New("passphrase entry cancelled")
	ErrNoPassphrase = errors.New("no passphrase given")
	ErrMismatch     = errors.New("passphrases do not match")
)

// IsTerminal reports whether r is an interactive terminal
func IsTerminal(r any) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Prompter reads passphrases. On a terminal it runs a masked input line;
// otherwise it reads one line from In.
type Prompter struct {
	In  io.Reader
	Out io.Writer

	lines *bufio.Reader
}

func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{In: in, Out: out}
}

// Passphrase asks for an existing passphrase
func (p *Prompter) Passphrase(label string) (string, error) {
	if v, ok := os.LookupEnv(EnvPassphrase); ok {
		return v, nil
	}
	if IsTerminal(p.In) {
		return p.interactive(label)
	}
	return p.pipedPassphrase()
}

// NewPassphrase asks for a passphrase to encrypt with. Interactive entry is
// confirmed by a second prompt.
func (p *Prompter) NewPassphrase(label string) (string, error) {
	if v, ok := os.LookupEnv(EnvPassphrase); ok {
		return v, nil
	}
	if !IsTerminal(p.In) {
		return p.pipedPassphrase()
	}

	first, err := p.interactive(label)
	if err != nil {
		return "", err
	}
	second, err := p.interactive("Repeat " + strings.ToLower(label[:1]) + label[1:])
	if err != nil {
		return "", err
	}
	if first != second {
		return "", ErrMismatch
	}
	return first, nil
}

// Input is the buffered reader over In. Commands that read data from stdin
// share it with the prompt so piped passphrases and data stay in order.
func (p *Prompter) Input() *bufio.Reader {
	if p.lines == nil {
		p.lines = bufio.NewReader(p.In)
	}
	return p.lines
}

// ReadLine reads one line from In without its line ending. It returns io.EOF
// only when no data is left.
func (p *Prompter) ReadLine() (string, error) {
	line, err := p.Input().ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	if err != nil && line == "" {
		return "", io.EOF
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *Prompter) pipedPassphrase() (string, error) {
	line, err := p.ReadLine()
	if errors.Is(err, io.EOF) {
		return "", ErrNoPassphrase
	}
	return line, err
}

func (p *Prompter) interactive(label string) (string, error) {
	prog := tea.NewProgram(newPassphraseModel(label), tea.WithInput(p.In), tea.WithOutput(p.Out))
	final, err := prog.Run()
	if err != nil {
		return "", fmt.Errorf("failed to run prompt: %w", err)
	}
	m := final.(passphraseModel)
	if m.cancelled {
		return "", ErrCancelled
	}
	return m.input.Value(), nil
}

var labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))

type passphraseModel struct {
	input     textinput.Model
	done      bool
	cancelled bool
}

func newPassphraseModel(label string) passphraseModel {
	ti := textinput.New()
	ti.Prompt = labelStyle.Render(label+":") + " "
	ti.EchoMode = textinput.EchoPassword
	ti.EchoCharacter = '•'
	ti.CharLimit = 1024
	ti.Focus()
	return passphraseModel{input: ti}
}

func (m passphraseModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m passphraseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "enter":
			m.done = true
			return m, tea.Quit
		case "ctrl+c", "esc":
			m.cancelled = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m passphraseModel) View() string {
	if m.done || m.cancelled {
		return ""
	}
	return m.input.View() + "\n"
}
