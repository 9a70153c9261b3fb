// internal/ui/interactive.go
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
)

// Prompt styles
var (
	questionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#5A67D8", Dark: "#7C3AED"})

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#718096", Dark: "#A0AEC0"})
)

// --- Generic Selector Component ---

type selectorModel struct {
	question string
	cursor   int
	choices  []string
	choice   string
}

func (m selectorModel) Init() tea.Cmd {
	return nil
}

func (m selectorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit

		case "enter":
			m.choice = m.choices[m.cursor]
			return m, tea.Quit

		case "down", "j":
			m.cursor++
			if m.cursor >= len(m.choices) {
				m.cursor = 0
			}

		case "up", "k":
			m.cursor--
			if m.cursor < 0 {
				m.cursor = len(m.choices) - 1
			}
		}
	}
	return m, nil
}

func (m selectorModel) View() string {
	var sb strings.Builder
	sb.WriteString(questionStyle.Render(m.question) + "\n\n")

	for i, choice := range m.choices {
		cursor := "  "
		if m.cursor == i {
			cursor = color.CyanString("> ")
		}
		sb.WriteString(fmt.Sprintf("%s%s\n", cursor, choice))
	}

	sb.WriteString("\n" + hintStyle.Render("(Use arrow keys to navigate, enter to select, q to quit)") + "\n")
	return sb.String()
}

// --- Text Input Component ---

type textInputModel struct {
	question  string
	textInput textinput.Model
	validate  func(string) error
	err       error
	submitted bool
}

func newTextInput(question, placeholder, defaultValue string, validate func(string) error) textInputModel {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.SetValue(defaultValue)
	ti.Focus()
	ti.CharLimit = 156
	ti.Width = 50

	return textInputModel{
		question:  question,
		textInput: ti,
		validate:  validate,
	}
}

func (m textInputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			// Block submission while the value fails validation
			if m.validate != nil {
				if err := m.validate(m.textInput.Value()); err != nil {
					m.err = err
					return m, nil
				}
			}
			m.submitted = true
			return m, tea.Quit
		}
	}

	m.textInput, cmd = m.textInput.Update(msg)
	if m.err != nil && m.validate != nil && m.validate(m.textInput.Value()) == nil {
		m.err = nil
	}
	return m, cmd
}

func (m textInputModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m textInputModel) View() string {
	var errLine string
	if m.err != nil {
		errLine = "\n" + color.RedString("✗ %v", m.err)
	}
	return fmt.Sprintf(
		"%s\n\n%s%s\n\n%s",
		questionStyle.Render(m.question),
		m.textInput.View(),
		errLine,
		hintStyle.Render("(esc to quit)"),
	)
}

// --- Public Functions to Run Prompts ---

// AskSelect presents the user with a list of choices and returns the selected one.
func AskSelect(question string, choices []string) (string, error) {
	p := tea.NewProgram(selectorModel{question: question, choices: choices})
	m, err := p.Run()
	if err != nil {
		return "", err
	}

	result := m.(selectorModel).choice
	if result == "" {
		return "", fmt.Errorf("no option selected")
	}
	return result, nil
}

// AskInput presents the user with a text input field.
func AskInput(question, placeholder, defaultValue string) (string, error) {
	return AskValidated(question, placeholder, defaultValue, nil)
}

// AskValidated presents a text input field whose value must pass validate
// before it can be submitted.
func AskValidated(question, placeholder, defaultValue string, validate func(string) error) (string, error) {
	p := tea.NewProgram(newTextInput(question, placeholder, defaultValue, validate))
	m, err := p.Run()
	if err != nil {
		return "", err
	}

	model := m.(textInputModel)
	if !model.submitted {
		return "", fmt.Errorf("input cancelled")
	}
	result := model.textInput.Value()
	if result == "" {
		if defaultValue != "" {
			return defaultValue, nil
		}
		return "", fmt.Errorf("input cannot be empty")
	}
	return result, nil
}

// AskConfirm presents a yes/no choice and returns the answer.
func AskConfirm(question string) (bool, error) {
	answer, err := AskSelect(question, []string{"yes", "no"})
	if err != nil {
		return false, err
	}
	return answer == "yes", nil
}
